package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type feedbackService interface {
	Create(ctx context.Context, actor *models.JWTClaims, sessionID string, req dto.CreateFeedbackRequest) (*models.Feedback, error)
	ListBySession(ctx context.Context, actor *models.JWTClaims, sessionID string) ([]models.Feedback, error)
	TutorSummary(ctx context.Context, tutorID string) (*models.TutorRatingSummary, error)
}

// FeedbackHandler exposes session rating endpoints.
type FeedbackHandler struct {
	service feedbackService
}

// NewFeedbackHandler builds a new handler.
func NewFeedbackHandler(service feedbackService) *FeedbackHandler {
	return &FeedbackHandler{service: service}
}

// Create godoc
// @Summary Rate a completed session
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CreateFeedbackRequest true "Rating"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/feedback [post]
func (h *FeedbackHandler) Create(c *gin.Context) {
	var req dto.CreateFeedbackRequest
	if err := bindJSON(c, &req, "feedback"); err != nil {
		response.Error(c, err)
		return
	}
	fb, err := h.service.Create(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fb)
}

// List godoc
// @Summary List feedback for a session
// @Tags Feedback
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/feedback [get]
func (h *FeedbackHandler) List(c *gin.Context) {
	items, err := h.service.ListBySession(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Summary godoc
// @Summary Average rating of a tutor
// @Tags Feedback
// @Produce json
// @Param id path string true "Tutor ID"
// @Success 200 {object} response.Envelope
// @Router /tutors/{id}/feedback/summary [get]
func (h *FeedbackHandler) Summary(c *gin.Context) {
	summary, err := h.service.TutorSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
