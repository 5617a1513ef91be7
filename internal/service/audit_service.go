package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/export"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditService exposes the audit trail and the late-action report built from it.
type AuditService struct {
	repo   auditReader
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs the service.
func NewAuditService(repo auditReader, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger, now: time.Now}
}

// List returns audit entries matching the query.
func (s *AuditService) List(ctx context.Context, query dto.AuditQuery) ([]models.AuditLog, *models.Pagination, error) {
	filter := models.AuditFilter{
		UserID:     query.UserID,
		ResourceID: query.SessionID,
		From:       query.From,
		To:         query.To,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	if query.Action != "" {
		filter.Actions = []string{query.Action}
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list audit logs")
	}
	return logs, models.NewPagination(query.Page, query.PageSize, total), nil
}

const reportPageSize = 500

var lateActionHeaders = []string{"recorded_at", "action", "session_id", "user_id", "reason", "ip_address"}

// LateActionReport renders every cancel, reschedule and leave flagged as late.
func (s *AuditService) LateActionReport(ctx context.Context, query dto.LateActionReportQuery) (*dto.ReportFile, error) {
	format, err := export.ParseFormat(query.Format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	table := export.Table{Title: "Late session actions", Headers: lateActionHeaders}
	for page := 1; ; page++ {
		logs, total, err := s.repo.List(ctx, models.AuditFilter{
			Actions:  models.LateAuditActions,
			From:     query.From,
			To:       query.To,
			Page:     page,
			PageSize: reportPageSize,
		})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load late actions")
		}
		for _, log := range logs {
			table.Rows = append(table.Rows, map[string]string{
				"recorded_at": log.CreatedAt.UTC().Format(time.RFC3339),
				"action":      log.Action,
				"session_id":  deref(log.ResourceID),
				"user_id":     deref(log.UserID),
				"reason":      deref(log.Reason),
				"ip_address":  log.IPAddress,
			})
		}
		if len(logs) == 0 || page*reportPageSize >= total {
			break
		}
	}

	renderer := export.For(format)
	data, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render report")
	}
	s.logger.Info("late action report generated", zap.String("format", string(format)), zap.Int("rows", len(table.Rows)))
	return &dto.ReportFile{
		Filename:    fmt.Sprintf("late-actions-%s.%s", s.now().UTC().Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
