package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type availabilityStore interface {
	Create(ctx context.Context, slot *models.AvailabilitySlot) error
	FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	List(ctx context.Context, filter models.SlotFilter) ([]models.AvailabilitySlot, error)
	HasOverlap(ctx context.Context, tutorID string, start, end time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// AvailabilityService manages the windows tutors open for bookings.
type AvailabilityService struct {
	repo      availabilityStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(repo availabilityStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// CreateSlot publishes a free window for the calling tutor.
func (s *AvailabilityService) CreateSlot(ctx context.Context, actor *models.JWTClaims, req dto.CreateSlotRequest) (*models.AvailabilitySlot, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTutor {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only tutors can publish availability")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	start, end := req.StartTime.UTC(), req.EndTime.UTC()
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	if !start.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be in the future")
	}

	overlap, err := s.repo.HasOverlap(ctx, actor.UserID, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check availability")
	}
	if overlap {
		return nil, appErrors.Clone(appErrors.ErrConflict, "slot overlaps an existing slot")
	}

	slot := &models.AvailabilitySlot{
		TutorID:      actor.UserID,
		StartTime:    start,
		EndTime:      end,
		AllowedModes: dedupeModes(req.AllowedModes),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, appErrors.Internal(err, "failed to create slot")
	}
	s.emitAudit(ctx, actor, models.AuditActionSlotCreate, slot.ID)
	return slot, nil
}

// ListSlots returns a tutor's free slots, or all of them when IncludeBooked is set.
func (s *AvailabilityService) ListSlots(ctx context.Context, tutorID string, query dto.SlotQuery) ([]models.AvailabilitySlot, error) {
	if tutorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tutor id is required")
	}
	slots, err := s.repo.List(ctx, models.SlotFilter{
		TutorID:       tutorID,
		IncludeBooked: query.IncludeBooked,
		From:          query.From,
		To:            query.To,
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list availability")
	}
	return slots, nil
}

// DeleteSlot withdraws one of the tutor's unbooked slots.
func (s *AvailabilityService) DeleteSlot(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability slot not found")
		}
		return appErrors.Internal(err, "failed to load availability slot")
	}
	if slot.TutorID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "slot belongs to another tutor")
	}
	if slot.IsBooked {
		return appErrors.Clone(appErrors.ErrConflict, "booked slots cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "slot was booked in the meantime")
		}
		return appErrors.Internal(err, "failed to delete slot")
	}
	s.emitAudit(ctx, actor, models.AuditActionSlotDelete, id)
	return nil
}

func (s *AvailabilityService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, slotID string) {
	if s.audit == nil {
		return
	}
	meta := RequestMetaFrom(ctx)
	userID := actor.UserID
	err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "availability_slot",
		ResourceID: &slotID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	if err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("slot_id", slotID), zap.Error(err))
	}
}

func dedupeModes(modes []string) []string {
	seen := make(map[string]struct{}, len(modes))
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
