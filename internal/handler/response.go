package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

type ErrorResponse struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error"`
	Message  string   `json:"message,omitempty"`
	Required []string `json:"required,omitempty"`
}

func NewErrorResponse(summary, message string) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error:   summary,
		Message: message,
	}
}

// Success writes data merged with "success": true.
func Success(c *gin.Context, status int, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}

// BindJSON decodes the request body into req. Missing required fields are
// reported with the required list; any other decoding failure is a 400.
func BindJSON(c *gin.Context, req interface{}, required []string) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		log.Ctx(c.Request.Context()).Debug().Strs("fields", fields).Msg("Missing required fields")
		Error(c, model.MissingFields(required...), "")
		return false
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse("Invalid request body", err.Error()))
	return false
}

// Error writes err as a JSON error body. Validation and client errors use
// their own text as the summary; server errors use fallback as the summary
// and the underlying error message as the detail.
func Error(c *gin.Context, err error, fallback string) {
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, &ErrorResponse{
			Success:  false,
			Error:    vErr.Message,
			Required: vErr.Required,
		})
		return
	}

	status := apperrors.StatusCode(err)
	if status < http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		c.AbortWithStatusJSON(status, NewErrorResponse(apperrors.PublicMessage(err), ""))
		return
	}

	_ = c.Error(err)
	log.Error().Err(err).
		Str("path", c.FullPath()).
		Str("request_id", c.GetString("request_id")).
		Msg(fallback)

	c.AbortWithStatusJSON(status, NewErrorResponse(fallback, apperrors.PublicMessage(err)))
}
