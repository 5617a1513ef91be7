package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateSessionRequest) (*models.Session, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.SessionQuery) ([]models.Session, *models.Pagination, error)
	ListPublic(ctx context.Context, page, size int) ([]models.Session, *models.Pagination, error)
	Confirm(ctx context.Context, actor *models.JWTClaims, id string, req dto.ConfirmSessionRequest) (*models.Session, error)
	Reject(ctx context.Context, actor *models.JWTClaims, id string, req dto.RejectSessionRequest) (*models.Session, error)
	Negotiate(ctx context.Context, actor *models.JWTClaims, id string, req dto.NegotiateSessionRequest) (*models.Session, error)
	AcceptProposal(ctx context.Context, actor *models.JWTClaims, id string, req dto.AcceptProposalRequest) (*models.Session, error)
	RejectProposal(ctx context.Context, actor *models.JWTClaims, id string, req dto.RejectSessionRequest) (*models.Session, error)
	Cancel(ctx context.Context, actor *models.JWTClaims, id string, req dto.CancelSessionRequest) (*models.Session, error)
	Reschedule(ctx context.Context, actor *models.JWTClaims, id string, req dto.RescheduleSessionRequest) (*models.Session, error)
	Join(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error)
	Leave(ctx context.Context, actor *models.JWTClaims, id string, req dto.LeaveSessionRequest) (*models.Session, error)
	Complete(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error)
	OverrideStatus(ctx context.Context, actor *models.JWTClaims, id string, req dto.OverrideStatusRequest) (*models.Session, error)
	UpdateLocation(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateLocationRequest) (*models.Session, error)
	UpdateTopic(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateTopicRequest) (*models.Session, error)
	RespondInvite(ctx context.Context, actor *models.JWTClaims, id, answer string) (*models.Session, error)
	MarkAttendance(ctx context.Context, actor *models.JWTClaims, id string) (*models.SessionParticipant, error)
}

// SessionHandler exposes the session negotiation endpoints.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

func (h *SessionHandler) respond(c *gin.Context, session *models.Session, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Create godoc
// @Summary Request a tutoring session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := bindJSON(c, &req, "session"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List my sessions
// @Tags Sessions
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	query := dto.SessionQuery{Page: page, PageSize: size}
	for _, raw := range listQuery(c, "status") {
		status := models.SessionStatus(strings.ToUpper(raw))
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status "+raw))
			return
		}
		query.Status = append(query.Status, status)
	}
	items, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListPublic godoc
// @Summary Discover public sessions open for joining
// @Tags Sessions
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions/public [get]
func (h *SessionHandler) ListPublic(c *gin.Context) {
	page, size := pageParams(c)
	items, pagination, err := h.service.ListPublic(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	h.respond(c, session, err)
}

// Confirm godoc
// @Summary Confirm a pending request (tutor)
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ConfirmSessionRequest true "Confirmation"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/confirm [put]
func (h *SessionHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmSessionRequest
	if err := bindJSON(c, &req, "confirmation"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Confirm(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Reject godoc
// @Summary Reject a pending request (tutor)
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.RejectSessionRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/reject [put]
func (h *SessionHandler) Reject(c *gin.Context) {
	var req dto.RejectSessionRequest
	if err := bindJSON(c, &req, "rejection"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Reject(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Negotiate godoc
// @Summary Propose changes to a pending request (tutor)
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.NegotiateSessionRequest true "Counter-offer"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/negotiate [post]
func (h *SessionHandler) Negotiate(c *gin.Context) {
	var req dto.NegotiateSessionRequest
	if err := bindJSON(c, &req, "negotiation"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Negotiate(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// AcceptProposal godoc
// @Summary Accept the outstanding proposal
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.AcceptProposalRequest false "Final topic and location"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/negotiate/accept [put]
func (h *SessionHandler) AcceptProposal(c *gin.Context) {
	var req dto.AcceptProposalRequest
	if err := bindOptionalJSON(c, &req, "acceptance"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.AcceptProposal(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// RejectProposal godoc
// @Summary Reject the outstanding proposal, cancelling the session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.RejectSessionRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/negotiate/reject [put]
func (h *SessionHandler) RejectProposal(c *gin.Context) {
	var req dto.RejectSessionRequest
	if err := bindOptionalJSON(c, &req, "rejection"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.RejectProposal(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Cancel godoc
// @Summary Cancel a session or withdraw a request
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CancelSessionRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/cancel [put]
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req dto.CancelSessionRequest
	if err := bindJSON(c, &req, "cancellation"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Cancel(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Reschedule godoc
// @Summary Ask the tutor to move a confirmed session to another slot
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.RescheduleSessionRequest true "Target slot"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/reschedule [post]
func (h *SessionHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleSessionRequest
	if err := bindJSON(c, &req, "reschedule"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Reschedule(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Join godoc
// @Summary Join a public session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/join [post]
func (h *SessionHandler) Join(c *gin.Context) {
	session, err := h.service.Join(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	h.respond(c, session, err)
}

// Leave godoc
// @Summary Leave a public session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.LeaveSessionRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/leave [post]
func (h *SessionHandler) Leave(c *gin.Context) {
	var req dto.LeaveSessionRequest
	if err := bindOptionalJSON(c, &req, "leave"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Leave(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// Complete godoc
// @Summary Mark a session as completed
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/complete [put]
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.service.Complete(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	h.respond(c, session, err)
}

// OverrideStatus godoc
// @Summary Force a session status (coordinator)
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.OverrideStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/status [put]
func (h *SessionHandler) OverrideStatus(c *gin.Context) {
	var req dto.OverrideStatusRequest
	if err := bindJSON(c, &req, "status"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.OverrideStatus(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// UpdateLocation godoc
// @Summary Change where a session takes place
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateLocationRequest true "Location"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/location [patch]
func (h *SessionHandler) UpdateLocation(c *gin.Context) {
	var req dto.UpdateLocationRequest
	if err := bindJSON(c, &req, "location"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.UpdateLocation(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// UpdateTopic godoc
// @Summary Change a session topic
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateTopicRequest true "Topic"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/topic [patch]
func (h *SessionHandler) UpdateTopic(c *gin.Context) {
	var req dto.UpdateTopicRequest
	if err := bindJSON(c, &req, "topic"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.UpdateTopic(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	h.respond(c, session, err)
}

// RespondInvite godoc
// @Summary Accept or decline a private group invitation
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param action path string true "accept or decline"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions/invite/{id}/{action} [put]
func (h *SessionHandler) RespondInvite(c *gin.Context) {
	session, err := h.service.RespondInvite(c.Request.Context(), claimsFromContext(c), c.Param("id"), c.Param("action"))
	h.respond(c, session, err)
}

// MarkAttendance godoc
// @Summary Mark my attendance for a running or completed session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/attendance [put]
func (h *SessionHandler) MarkAttendance(c *gin.Context) {
	member, err := h.service.MarkAttendance(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, member, nil)
}
