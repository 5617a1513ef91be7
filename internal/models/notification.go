package models

import "time"

// NotificationType groups notifications by the event that produced them.
type NotificationType string

const (
	NotificationSessionRequested NotificationType = "SESSION_REQUESTED"
	NotificationSessionUpdated   NotificationType = "SESSION_UPDATED"
	NotificationProposal         NotificationType = "SESSION_PROPOSAL"
	NotificationSessionCancelled NotificationType = "SESSION_CANCELLED"
	NotificationParticipant      NotificationType = "SESSION_PARTICIPANT"
)

// Notification is an inbox entry for one user.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	SessionID *string          `db:"session_id" json:"session_id,omitempty"`
	Type      NotificationType `db:"type" json:"type"`
	Message   string           `db:"message" json:"message"`
	Read      bool             `db:"is_read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
}

// NotificationFilter constrains inbox listing.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
