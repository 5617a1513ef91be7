package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// SessionStatus is a state of the negotiation lifecycle.
type SessionStatus string

const (
	SessionWaitingForTutor   SessionStatus = "WAITING_FOR_TUTOR"
	SessionWaitingForStudent SessionStatus = "WAITING_FOR_STUDENT"
	SessionConfirmed         SessionStatus = "CONFIRMED"
	SessionRejected          SessionStatus = "REJECTED"
	SessionCancelled         SessionStatus = "CANCELLED"
	SessionCompleted         SessionStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionWaitingForTutor, SessionWaitingForStudent, SessionConfirmed,
		SessionRejected, SessionCancelled, SessionCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionRejected || s == SessionCancelled || s == SessionCompleted
}

// Pending reports whether the request still awaits a decision.
func (s SessionStatus) Pending() bool {
	return s == SessionWaitingForTutor || s == SessionWaitingForStudent
}

// SessionMode is how a session is delivered.
type SessionMode string

const (
	ModeOnline  SessionMode = "ONLINE"
	ModeCampus1 SessionMode = "CAMPUS_1"
	ModeCampus2 SessionMode = "CAMPUS_2"
)

// Valid reports whether m is a known delivery mode.
func (m SessionMode) Valid() bool {
	return m == ModeOnline || m == ModeCampus1 || m == ModeCampus2
}

// RequestType classifies a booking.
type RequestType string

const (
	RequestOneOnOne     RequestType = "ONE_ON_ONE"
	RequestPrivateGroup RequestType = "PRIVATE_GROUP"
	RequestPublicGroup  RequestType = "PUBLIC_GROUP"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return t == RequestOneOnOne || t == RequestPrivateGroup || t == RequestPublicGroup
}

// Group reports whether more than one student may attend.
func (t RequestType) Group() bool {
	return t == RequestPrivateGroup || t == RequestPublicGroup
}

// Session is a tutoring booking and its negotiation state.
type Session struct {
	ID                string         `db:"id" json:"id"`
	StudentID         string         `db:"student_id" json:"student_id"`
	TutorID           string         `db:"tutor_id" json:"tutor_id"`
	StartTime         time.Time      `db:"start_time" json:"start_time"`
	EndTime           time.Time      `db:"end_time" json:"end_time"`
	Mode              SessionMode    `db:"mode" json:"mode"`
	Location          *string        `db:"location" json:"location,omitempty"`
	RequestType       RequestType    `db:"request_type" json:"request_type"`
	RequestedCapacity int            `db:"requested_capacity" json:"requested_capacity"`
	MaxCapacity       int            `db:"max_capacity" json:"max_capacity"`
	CurrentCapacity   int            `db:"current_capacity" json:"current_capacity"`
	IsPublic          bool           `db:"is_public" json:"is_public"`
	Status            SessionStatus  `db:"status" json:"status"`
	Topic             string         `db:"topic" json:"topic"`
	Note              string         `db:"note" json:"note"`
	Proposal          *Proposal      `db:"proposal" json:"proposal,omitempty"`
	SlotID            *string        `db:"slot_id" json:"slot_id,omitempty"`
	StatusReason      *string        `db:"status_reason" json:"status_reason,omitempty"`
	CancelledBy       *string        `db:"cancelled_by" json:"cancelled_by,omitempty"`
	LateAction        bool           `db:"late_action" json:"late_action"`
	InvitedEmails     pq.StringArray `db:"invited_emails" json:"invited_emails,omitempty"`
	Version           int            `db:"version" json:"version"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`

	Participants []SessionParticipant `db:"-" json:"participants,omitempty"`
}

// Involves reports whether userID is the tutor, the requester or a joined participant.
func (s *Session) Involves(userID string) bool {
	if s.TutorID == userID || s.StudentID == userID {
		return true
	}
	_, ok := s.Participant(userID)
	return ok
}

// Participant returns the joined membership of studentID.
func (s *Session) Participant(studentID string) (SessionParticipant, bool) {
	for _, p := range s.Participants {
		if p.StudentID == studentID && p.Status == ParticipantJoined {
			return p, true
		}
	}
	return SessionParticipant{}, false
}

// Invited reports whether email is on the session's invitation list.
func (s *Session) Invited(email string) bool {
	email = NormalizeEmail(email)
	if email == "" {
		return false
	}
	for _, e := range s.InvitedEmails {
		if e == email {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JoinedStudentIDs lists the students currently holding a seat.
func (s *Session) JoinedStudentIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Status == ParticipantJoined {
			ids = append(ids, p.StudentID)
		}
	}
	return ids
}

// ParticipantStatus tracks a student's seat in a session.
type ParticipantStatus string

const (
	ParticipantJoined    ParticipantStatus = "JOINED"
	ParticipantLeft      ParticipantStatus = "LEFT"
	ParticipantCancelled ParticipantStatus = "CANCELLED"
)

// SessionParticipant is one student's membership in a session.
type SessionParticipant struct {
	SessionID  string            `db:"session_id" json:"session_id"`
	StudentID  string            `db:"student_id" json:"student_id"`
	Status     ParticipantStatus `db:"status" json:"status"`
	Late       bool              `db:"late" json:"late"`
	JoinedAt   time.Time         `db:"joined_at" json:"joined_at"`
	LeftAt     *time.Time        `db:"left_at" json:"left_at,omitempty"`
	AttendedAt *time.Time        `db:"attended_at" json:"attended_at,omitempty"`
}

// SessionFilter constrains session listing queries.
type SessionFilter struct {
	StudentID  string
	TutorID    string
	Status     []SessionStatus
	PublicOnly bool
	StartAfter *time.Time
	Page       int
	PageSize   int
}
