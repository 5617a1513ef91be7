package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/database"
)

// ErrSlotUnavailable is returned when a slot claim loses to another booking.
var ErrSlotUnavailable = errors.New("availability slot unavailable")

const sessionColumns = `id, student_id, tutor_id, start_time, end_time, mode, location, request_type,
       requested_capacity, max_capacity, current_capacity, is_public, status, topic, note, proposal,
       slot_id, status_reason, cancelled_by, late_action, version, created_at, updated_at, invited_emails`

const participantColumns = `session_id, student_id, status, late, joined_at, left_at, attended_at`

// SessionRepository persists sessions and their participants.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session together with its requester's membership.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	if session.Version == 0 {
		session.Version = 1
	}

	const insertSession = `INSERT INTO sessions (` + sessionColumns + `)
	VALUES (:id, :student_id, :tutor_id, :start_time, :end_time, :mode, :location, :request_type,
	        :requested_capacity, :max_capacity, :current_capacity, :is_public, :status, :topic, :note, :proposal,
	        :slot_id, :status_reason, :cancelled_by, :late_action, :version, :created_at, :updated_at, :invited_emails)`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertSession, session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		member := models.SessionParticipant{
			SessionID: session.ID,
			StudentID: session.StudentID,
			Status:    models.ParticipantJoined,
			JoinedAt:  session.CreatedAt,
		}
		if err := upsertParticipant(ctx, tx, member); err != nil {
			return err
		}
		session.Participants = []models.SessionParticipant{member}
		return nil
	})
}

// FindByID loads a session and its participants.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}

	participants := []models.SessionParticipant{}
	membersQuery := `SELECT ` + participantColumns + ` FROM session_participants WHERE session_id = $1 ORDER BY joined_at`
	if err := r.db.SelectContext(ctx, &participants, membersQuery, id); err != nil {
		return nil, fmt.Errorf("load session participants: %w", err)
	}
	session.Participants = participants
	return &session, nil
}

// List returns sessions matching the filter ordered by start time, plus the total count.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(student_id = $%d OR id IN (SELECT session_id FROM session_participants WHERE student_id = $%d AND status = 'JOINED'))", n, n))
	}
	if filter.TutorID != "" {
		args = append(args, filter.TutorID)
		conditions = append(conditions, fmt.Sprintf("tutor_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.PublicOnly {
		conditions = append(conditions, "is_public = TRUE")
	}
	if filter.StartAfter != nil {
		args = append(args, *filter.StartAfter)
		conditions = append(conditions, fmt.Sprintf("start_time > $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM sessions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	query := fmt.Sprintf("SELECT %s FROM sessions%s ORDER BY start_time ASC LIMIT %d OFFSET %d",
		sessionColumns, where, size, (page-1)*size)

	sessions := []models.Session{}
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// ListDueForCompletion returns confirmed sessions whose start time has passed.
func (r *SessionRepository) ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
	WHERE status = 'CONFIRMED' AND start_time <= $1 ORDER BY start_time LIMIT $2`
	sessions := []models.Session{}
	if err := r.db.SelectContext(ctx, &sessions, query, now, limit); err != nil {
		return nil, fmt.Errorf("list sessions due for completion: %w", err)
	}
	return sessions, nil
}

// ListStaleProposals returns sessions whose tutor counter-offer was made before cutoff.
func (r *SessionRepository) ListStaleProposals(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
	WHERE status = 'WAITING_FOR_STUDENT' AND (proposal->>'proposed_at')::timestamptz <= $1
	ORDER BY updated_at LIMIT $2`
	sessions := []models.Session{}
	if err := r.db.SelectContext(ctx, &sessions, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale proposals: %w", err)
	}
	return sessions, nil
}

// HasConfirmedOverlap reports whether the tutor holds another confirmed session
// intersecting [start, end). excludeID skips the session being changed.
func (r *SessionRepository) HasConfirmedOverlap(ctx context.Context, tutorID string, start, end time.Time, excludeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM sessions
	WHERE tutor_id = $1 AND status = 'CONFIRMED' AND id::text <> $4 AND start_time < $3 AND end_time > $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tutorID, start, end, excludeID); err != nil {
		return false, fmt.Errorf("check tutor overlap: %w", err)
	}
	return exists, nil
}

// MarkAttendance stamps a joined participant's attendance once. It returns
// sql.ErrNoRows when the student holds no seat or was already marked.
func (r *SessionRepository) MarkAttendance(ctx context.Context, sessionID, studentID string, at time.Time) error {
	const query = `UPDATE session_participants SET attended_at = $3
	WHERE session_id = $1 AND student_id = $2 AND status = 'JOINED' AND attended_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, sessionID, studentID, at)
	if err != nil {
		return fmt.Errorf("mark attendance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check attendance rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SessionTransition describes one conditional state change. Session carries the
// desired row; the update only applies while the stored row still has
// ExpectedStatus and ExpectedVersion.
type SessionTransition struct {
	Session         *models.Session
	ExpectedStatus  models.SessionStatus
	ExpectedVersion int
	ClaimSlotID     *string
	ReleaseSlotID   *string
	Participant     *models.SessionParticipant
}

// ApplyTransition writes a transition atomically. It returns sql.ErrNoRows when the
// session moved on since it was read and ErrSlotUnavailable when a slot claim fails.
// Nothing is written in either case.
func (r *SessionRepository) ApplyTransition(ctx context.Context, t SessionTransition) error {
	if t.Session == nil {
		return fmt.Errorf("apply transition: missing session")
	}
	s := t.Session
	nextVersion := t.ExpectedVersion + 1
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	const updateSession = `UPDATE sessions SET start_time = $2, end_time = $3, mode = $4, location = $5,
	max_capacity = $6, current_capacity = $7, is_public = $8, status = $9, topic = $10, proposal = $11,
	slot_id = $12, status_reason = $13, cancelled_by = $14, late_action = $15, version = $16, updated_at = $17,
	invited_emails = $20
	WHERE id = $1 AND status = $18 AND version = $19`

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, updateSession,
			s.ID, s.StartTime, s.EndTime, s.Mode, s.Location,
			s.MaxCapacity, s.CurrentCapacity, s.IsPublic, s.Status, s.Topic, s.Proposal,
			s.SlotID, s.StatusReason, s.CancelledBy, s.LateAction, nextVersion, updatedAt,
			t.ExpectedStatus, t.ExpectedVersion, s.InvitedEmails,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check session update rows: %w", err)
		}
		if rows == 0 {
			return sql.ErrNoRows
		}

		if t.ReleaseSlotID != nil {
			const release = `UPDATE availability_slots SET is_booked = FALSE, session_id = NULL WHERE id = $1 AND session_id = $2`
			if _, err := tx.ExecContext(ctx, release, *t.ReleaseSlotID, s.ID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		if t.ClaimSlotID != nil {
			if err := claimSlot(ctx, tx, *t.ClaimSlotID, s); err != nil {
				return err
			}
		}
		if t.Participant != nil {
			if err := upsertParticipant(ctx, tx, *t.Participant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Version = nextVersion
	s.UpdatedAt = updatedAt
	return nil
}

// claimSlot books the slot for the session window and returns the uncovered
// head and tail of the slot to the pool as new free slots.
func claimSlot(ctx context.Context, tx *sqlx.Tx, slotID string, s *models.Session) error {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1 FOR UPDATE`
	var slot models.AvailabilitySlot
	if err := tx.GetContext(ctx, &slot, query, slotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("lock slot: %w", err)
	}
	if slot.IsBooked || slot.TutorID != s.TutorID || !slot.Covers(s.StartTime, s.EndTime) {
		return ErrSlotUnavailable
	}

	const book = `UPDATE availability_slots SET is_booked = TRUE, session_id = $2, start_time = $3, end_time = $4
	WHERE id = $1 AND is_booked = FALSE`
	result, err := tx.ExecContext(ctx, book, slotID, s.ID, s.StartTime, s.EndTime)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check slot claim rows: %w", err)
	}
	if rows == 0 {
		return ErrSlotUnavailable
	}

	now := time.Now().UTC()
	remainders := make([]models.AvailabilitySlot, 0, 2)
	if slot.StartTime.Before(s.StartTime) {
		remainders = append(remainders, models.AvailabilitySlot{StartTime: slot.StartTime, EndTime: s.StartTime})
	}
	if slot.EndTime.After(s.EndTime) {
		remainders = append(remainders, models.AvailabilitySlot{StartTime: s.EndTime, EndTime: slot.EndTime})
	}
	for _, rem := range remainders {
		rem.ID = uuid.NewString()
		rem.TutorID = slot.TutorID
		rem.AllowedModes = slot.AllowedModes
		rem.CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, insertSlotQuery, rem); err != nil {
			return fmt.Errorf("split slot: %w", err)
		}
	}
	return nil
}

func upsertParticipant(ctx context.Context, tx *sqlx.Tx, p models.SessionParticipant) error {
	const query = `INSERT INTO session_participants (` + participantColumns + `)
	VALUES (:session_id, :student_id, :status, :late, :joined_at, :left_at, :attended_at)
	ON CONFLICT (session_id, student_id) DO UPDATE SET status = EXCLUDED.status, late = EXCLUDED.late,
	joined_at = EXCLUDED.joined_at, left_at = EXCLUDED.left_at,
	attended_at = COALESCE(session_participants.attended_at, EXCLUDED.attended_at)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}
