package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type availabilityService interface {
	CreateSlot(ctx context.Context, actor *models.JWTClaims, req dto.CreateSlotRequest) (*models.AvailabilitySlot, error)
	ListSlots(ctx context.Context, tutorID string, query dto.SlotQuery) ([]models.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, actor *models.JWTClaims, id string) error
}

// AvailabilityHandler exposes tutor availability endpoints.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler builds a new handler.
func NewAvailabilityHandler(service availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// Create godoc
// @Summary Publish an availability slot (tutor)
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.CreateSlotRequest true "Slot"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /availability [post]
func (h *AvailabilityHandler) Create(c *gin.Context) {
	var req dto.CreateSlotRequest
	if err := bindJSON(c, &req, "slot"); err != nil {
		response.Error(c, err)
		return
	}
	slot, err := h.service.CreateSlot(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// List godoc
// @Summary List a tutor's availability
// @Tags Availability
// @Produce json
// @Param id path string true "Tutor ID"
// @Param include_booked query bool false "Include booked slots"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /tutors/{id}/availability [get]
func (h *AvailabilityHandler) List(c *gin.Context) {
	from, err := timeQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	query := dto.SlotQuery{IncludeBooked: c.Query("include_booked") == "true", From: from, To: to}
	slots, err := h.service.ListSlots(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Delete godoc
// @Summary Withdraw an unbooked slot (tutor)
// @Tags Availability
// @Param id path string true "Slot ID"
// @Success 204
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteSlot(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
