package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/service/patient"
)

type Handler struct {
	service patient.PatientService
}

func NewHandler(service patient.PatientService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the patient routes behind mw, e.g. the JWT guard.
func (h *Handler) RegisterRoutes(r gin.IRouter, mw ...gin.HandlerFunc) {
	patients := r.Group("/patients", mw...)
	{
		patients.POST("", h.CreatePatient)
		patients.GET("", h.ListPatients)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id", h.UpdatePatient)
		patients.DELETE("/:id", h.DeletePatient)
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req model.CreatePatientRequest
	if !handler.BindJSON(c, &req, model.PatientRequiredFields) {
		return
	}

	p, err := h.service.CreatePatient(c.Request.Context(), &req)
	if err != nil {
		handler.Error(c, err, "Failed to create patient")
		return
	}
	handler.Success(c, http.StatusCreated, gin.H{"patient": p})
}

func (h *Handler) ListPatients(c *gin.Context) {
	patients, err := h.service.ListPatients(c.Request.Context())
	if err != nil {
		handler.Error(c, err, "Failed to retrieve patients")
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"patients": patients})
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.service.GetPatient(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err, "Failed to retrieve patient")
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"patient": p})
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.UpdatePatientRequest
	if !handler.BindJSON(c, &req, nil) {
		return
	}

	p, err := h.service.UpdatePatient(c.Request.Context(), id, &req)
	if err != nil {
		handler.Error(c, err, "Failed to update patient")
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"patient": p})
}

func (h *Handler) DeletePatient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeletePatient(c.Request.Context(), id); err != nil {
		handler.Error(c, err, "Failed to delete patient")
		return
	}
	handler.Success(c, http.StatusOK, gin.H{"message": "Patient deleted successfully"})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("Invalid patient ID", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
