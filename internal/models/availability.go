package models

import (
	"time"

	"github.com/lib/pq"
)

// AvailabilitySlot is a window a tutor has opened for bookings.
type AvailabilitySlot struct {
	ID           string         `db:"id" json:"id"`
	TutorID      string         `db:"tutor_id" json:"tutor_id"`
	StartTime    time.Time      `db:"start_time" json:"start_time"`
	EndTime      time.Time      `db:"end_time" json:"end_time"`
	AllowedModes pq.StringArray `db:"allowed_modes" json:"allowed_modes"`
	IsBooked     bool           `db:"is_booked" json:"is_booked"`
	SessionID    *string        `db:"session_id" json:"session_id,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Allows reports whether the slot can host a session in mode.
func (s *AvailabilitySlot) Allows(mode SessionMode) bool {
	for _, m := range s.AllowedModes {
		if SessionMode(m) == mode {
			return true
		}
	}
	return false
}

// Covers reports whether [start, end) lies inside the slot.
func (s *AvailabilitySlot) Covers(start, end time.Time) bool {
	return !start.Before(s.StartTime) && !end.After(s.EndTime) && end.After(start)
}

// SlotFilter constrains availability listing.
type SlotFilter struct {
	TutorID       string
	IncludeBooked bool
	From          *time.Time
	To            *time.Time
}
