package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const slotColumns = `id, tutor_id, start_time, end_time, allowed_modes, is_booked, session_id, created_at`

const insertSlotQuery = `INSERT INTO availability_slots (` + slotColumns + `)
	VALUES (:id, :tutor_id, :start_time, :end_time, :allowed_modes, :is_booked, :session_id, :created_at)`

// AvailabilityRepository persists tutor availability slots.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// Create inserts a free slot.
func (r *AvailabilityRepository) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertSlotQuery, slot); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

// FindByID returns a slot.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	var slot models.AvailabilitySlot
	if err := r.db.GetContext(ctx, &slot, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// List returns a tutor's slots ordered by start.
func (r *AvailabilityRepository) List(ctx context.Context, filter models.SlotFilter) ([]models.AvailabilitySlot, error) {
	conditions := []string{"tutor_id = $1"}
	args := []interface{}{filter.TutorID}
	if !filter.IncludeBooked {
		conditions = append(conditions, "is_booked = FALSE")
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("end_time > $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("start_time < $%d", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM availability_slots WHERE %s ORDER BY start_time",
		slotColumns, strings.Join(conditions, " AND "))

	slots := []models.AvailabilitySlot{}
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// HasOverlap reports whether the tutor already has a slot intersecting [start, end).
func (r *AvailabilityRepository) HasOverlap(ctx context.Context, tutorID string, start, end time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM availability_slots WHERE tutor_id = $1 AND start_time < $3 AND end_time > $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tutorID, start, end); err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return exists, nil
}

// Delete removes a slot that has not been booked.
func (r *AvailabilityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = $1 AND is_booked = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check slot delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
