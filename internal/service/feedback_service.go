package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type feedbackStore interface {
	Create(ctx context.Context, fb *models.Feedback) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Feedback, error)
	SummaryByTutor(ctx context.Context, tutorID string) (*models.TutorRatingSummary, error)
}

// sessionReader is satisfied by SessionService so an elapsed session is
// completed before it is rated.
type sessionReader interface {
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error)
}

// FeedbackService records student ratings of completed sessions.
type FeedbackService struct {
	repo      feedbackStore
	sessions  sessionReader
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewFeedbackService constructs the service.
func NewFeedbackService(repo feedbackStore, sessions sessionReader, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *FeedbackService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{repo: repo, sessions: sessions, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// Create stores the calling student's rating. Each student rates a session once.
func (s *FeedbackService) Create(ctx context.Context, actor *models.JWTClaims, sessionID string, req dto.CreateFeedbackRequest) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can leave feedback")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}
	session, err := s.sessions.Get(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if _, joined := session.Participant(actor.UserID); !joined && !isRequester(session, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only participants can rate this session")
	}
	if session.Status != models.SessionCompleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "feedback opens once the session is completed")
	}

	fb := &models.Feedback{
		SessionID: session.ID,
		StudentID: actor.UserID,
		TutorID:   session.TutorID,
		Rating:    req.Rating,
		Comment:   trimmedPtr(req.Comment),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, fb); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already rated this session")
		}
		return nil, appErrors.Internal(err, "failed to store feedback")
	}

	if s.audit != nil {
		meta := RequestMetaFrom(ctx)
		userID := actor.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     models.AuditActionFeedbackCreate,
			Resource:   "session",
			ResourceID: &fb.SessionID,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.String("session_id", fb.SessionID), zap.Error(err))
		}
	}
	return fb, nil
}

// ListBySession returns the ratings of a session to its tutor, its participants
// and supervisors.
func (s *FeedbackService) ListBySession(ctx context.Context, actor *models.JWTClaims, sessionID string) ([]models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := s.sessions.Get(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.Supervisor() && !session.Involves(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not part of this session")
	}
	items, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list feedback")
	}
	return items, nil
}

// TutorSummary returns a tutor's average rating.
func (s *FeedbackService) TutorSummary(ctx context.Context, tutorID string) (*models.TutorRatingSummary, error) {
	if strings.TrimSpace(tutorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tutor id is required")
	}
	summary, err := s.repo.SummaryByTutor(ctx, tutorID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to summarise feedback")
	}
	return summary, nil
}
