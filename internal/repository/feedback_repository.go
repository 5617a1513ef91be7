package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

// FeedbackRepository persists session feedback.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create stores feedback. A second entry for the same (session, student) pair yields ErrDuplicate.
func (r *FeedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feedback (id, session_id, student_id, tutor_id, rating, comment, created_at)
	VALUES (:id, :session_id, :student_id, :tutor_id, :rating, :comment, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fb); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListBySession returns the feedback left for a session.
func (r *FeedbackRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Feedback, error) {
	const query = `SELECT id, session_id, student_id, tutor_id, rating, comment, created_at
	FROM feedback WHERE session_id = $1 ORDER BY created_at`
	items := []models.Feedback{}
	if err := r.db.SelectContext(ctx, &items, query, sessionID); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return items, nil
}

// SummaryByTutor aggregates ratings received by a tutor.
func (r *FeedbackRepository) SummaryByTutor(ctx context.Context, tutorID string) (*models.TutorRatingSummary, error) {
	const query = `SELECT $1::text AS tutor_id, COALESCE(AVG(rating), 0)::float8 AS average_rating, COUNT(*) AS feedback_count
	FROM feedback WHERE tutor_id = $1`
	var summary models.TutorRatingSummary
	if err := r.db.GetContext(ctx, &summary, query, tutorID); err != nil {
		return nil, fmt.Errorf("summarise feedback: %w", err)
	}
	return &summary, nil
}
