package diagnosis

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/service/diagnosis"
)

type Handler struct {
	service diagnosis.DiagnosisService
}

func NewHandler(service diagnosis.DiagnosisService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the diagnosis routes. generate runs before the
// generate handler, typically a stricter rate limiter.
func (h *Handler) RegisterRoutes(r gin.IRouter, generate ...gin.HandlerFunc) {
	d := r.Group("/diagnosis")
	{
		d.POST("/generate", append(generate, h.Generate)...)
		d.GET("/history", h.History)
	}
}

func (h *Handler) Generate(c *gin.Context) {
	var req model.DiagnosisRequest
	if !handler.BindJSON(c, &req, model.DiagnosisRequiredFields) {
		return
	}

	in, err := req.Normalize()
	if err != nil {
		handler.Error(c, err, "")
		return
	}

	result, err := h.service.Generate(c.Request.Context(), in)
	if err != nil {
		handler.Error(c, err, "Failed to generate diagnosis")
		return
	}

	body := gin.H{
		"diagnosis":     result.Diagnosis,
		"confidence":    result.Confidence,
		"isEmergency":   result.IsEmergency,
		"needsReferral": result.NeedsReferral,
		"timestamp":     result.Timestamp,
	}
	// Gate replies carry the warning flag instead of the echoed input.
	if result.CriticalWarning {
		body["criticalWarning"] = true
	} else {
		body["patientData"] = in
	}
	handler.Success(c, http.StatusOK, body)
}

func (h *Handler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("Invalid limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	rows, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		handler.Error(c, err, "Failed to retrieve diagnosis history")
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"diagnoses": rows})
}
