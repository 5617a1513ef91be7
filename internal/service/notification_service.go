package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

// NotificationJobType tags queue jobs carrying a notification.
const NotificationJobType = "notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SessionEvent describes a session change worth telling the other parties about.
type SessionEvent struct {
	Session *models.Session
	Type    models.NotificationType
	Message string
	ActorID string
}

// NotificationService fans session events out to the inboxes of everyone
// involved except the actor. Delivery goes through the job queue when one is
// attached and is written inline otherwise.
type NotificationService struct {
	repo   notificationStore
	queue  jobEnqueuer
	logger *zap.Logger
	now    func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationStore, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, logger: logger, now: time.Now}
}

// UseQueue routes deliveries through q.
func (s *NotificationService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// NotifySession records one notification per recipient. Failures are logged;
// the session change has already been committed.
func (s *NotificationService) NotifySession(ctx context.Context, ev SessionEvent) {
	if ev.Session == nil {
		return
	}
	sessionID := ev.Session.ID
	for _, userID := range recipients(ev.Session, ev.ActorID) {
		n := models.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: &sessionID,
			Type:      ev.Type,
			Message:   ev.Message,
			CreatedAt: s.now().UTC(),
		}
		if s.queue != nil {
			err := s.queue.Enqueue(jobs.Job{ID: n.ID, Type: NotificationJobType, Payload: n})
			if err == nil {
				continue
			}
			s.logger.Warn("enqueue notification failed, delivering inline", zap.String("session_id", sessionID), zap.Error(err))
		}
		if err := s.repo.Create(ctx, &n); err != nil {
			s.logger.Warn("failed to store notification", zap.String("session_id", sessionID), zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// HandleJob is the queue handler persisting a notification.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Error("dropping malformed notification job", zap.String("job_id", job.ID))
		return nil
	}
	if err := s.repo.Create(ctx, &n); err != nil {
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	items, total, err := s.repo.List(ctx, models.NotificationFilter{
		UserID:     actor.UserID,
		UnreadOnly: query.UnreadOnly,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	return items, models.NewPagination(query.Page, query.PageSize, total), nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkRead(ctx, id, actor.UserID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to update notification")
	}
	return nil
}

// recipients lists everyone involved in the session except the actor.
func recipients(s *models.Session, actorID string) []string {
	seen := map[string]struct{}{actorID: {}}
	out := make([]string, 0, 2+len(s.Participants))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(s.TutorID)
	add(s.StudentID)
	for _, id := range s.JoinedStudentIDs() {
		add(id)
	}
	return out
}
