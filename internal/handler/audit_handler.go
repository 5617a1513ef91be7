package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, query dto.AuditQuery) ([]models.AuditLog, *models.Pagination, error)
	LateActionReport(ctx context.Context, query dto.LateActionReportQuery) (*dto.ReportFile, error)
}

// AuditHandler exposes the audit trail and its reports.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler builds a new handler.
func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List godoc
// @Summary Browse the audit trail
// @Tags Audit
// @Produce json
// @Param action query string false "Action"
// @Param user_id query string false "Actor"
// @Param session_id query string false "Session"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
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
	page, size := pageParams(c)
	logs, pagination, err := h.service.List(c.Request.Context(), dto.AuditQuery{
		Action:    c.Query("action"),
		UserID:    c.Query("user_id"),
		SessionID: c.Query("session_id"),
		From:      from,
		To:        to,
		Page:      page,
		PageSize:  size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// LateActions godoc
// @Summary Download the late-action report
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {file} file
// @Router /reports/late-actions [get]
func (h *AuditHandler) LateActions(c *gin.Context) {
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
	file, err := h.service.LateActionReport(c.Request.Context(), dto.LateActionReportQuery{
		Format: c.DefaultQuery("format", "csv"),
		From:   from,
		To:     to,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Data)
}
