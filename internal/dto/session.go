package dto

import (
	"time"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// CreateSessionRequest books a session with a tutor, optionally against one of
// the tutor's availability slots.
type CreateSessionRequest struct {
	TutorID           string     `json:"tutor_id" validate:"required"`
	SlotID            *string    `json:"slot_id"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	Mode              string     `json:"mode" validate:"required,oneof=ONLINE CAMPUS_1 CAMPUS_2"`
	Location          *string    `json:"location"`
	RequestType       string     `json:"request_type" validate:"required,oneof=ONE_ON_ONE PRIVATE_GROUP PUBLIC_GROUP"`
	RequestedCapacity int        `json:"requested_capacity" validate:"omitempty,min=1,max=200"`
	IsPublic          *bool      `json:"is_public"`
	Topic             string     `json:"topic" validate:"max=200"`
	Note              string     `json:"note" validate:"max=2000"`
	InvitedEmails     []string   `json:"invited_emails" validate:"omitempty,max=50,dive,email"`
}

// ConfirmSessionRequest is the tutor's acceptance of a request.
type ConfirmSessionRequest struct {
	Topic             string  `json:"topic" validate:"max=200"`
	MaxCapacity       *int    `json:"max_capacity" validate:"omitempty,min=1"`
	IsPublic          *bool   `json:"is_public"`
	FinalLocationLink *string `json:"final_location_link"`
}

// RejectSessionRequest declines a request.
type RejectSessionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// NegotiateSessionRequest is a tutor counter-offer. Unset fields keep the
// session's current value.
type NegotiateSessionRequest struct {
	NewTopic       *string    `json:"new_topic" validate:"omitempty,max=200"`
	Message        string     `json:"message" validate:"max=1000"`
	NewStartTime   *time.Time `json:"new_start_time"`
	NewEndTime     *time.Time `json:"new_end_time"`
	NewMode        *string    `json:"new_mode" validate:"omitempty,oneof=ONLINE CAMPUS_1 CAMPUS_2"`
	NewLocation    *string    `json:"new_location"`
	NewMaxCapacity *int       `json:"new_max_capacity" validate:"omitempty,min=1"`
	NewIsPublic    *bool      `json:"new_is_public"`
}

// AcceptProposalRequest optionally finalises topic and location when accepting.
type AcceptProposalRequest struct {
	Topic             *string `json:"topic" validate:"omitempty,max=200"`
	FinalLocationLink *string `json:"final_location_link"`
}

// CancelSessionRequest cancels a confirmed session or withdraws a pending request.
type CancelSessionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// RescheduleSessionRequest proposes moving a confirmed session into another
// free slot of the same tutor. StartTime/EndTime narrow the slot when set.
type RescheduleSessionRequest struct {
	SlotID    string     `json:"slot_id" validate:"required"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Mode      *string    `json:"mode" validate:"omitempty,oneof=ONLINE CAMPUS_1 CAMPUS_2"`
	Message   string     `json:"message" validate:"max=1000"`
}

// LeaveSessionRequest gives up a seat in a public session.
type LeaveSessionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// OverrideStatusRequest is a coordinator forcing a session into a status.
type OverrideStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=WAITING_FOR_TUTOR CONFIRMED REJECTED CANCELLED COMPLETED"`
	Reason string `json:"reason" validate:"max=1000"`
}

// UpdateLocationRequest edits where a session takes place.
type UpdateLocationRequest struct {
	Location string  `json:"location" validate:"max=500"`
	Mode     *string `json:"mode" validate:"omitempty,oneof=ONLINE CAMPUS_1 CAMPUS_2"`
}

// UpdateTopicRequest edits a session's topic.
type UpdateTopicRequest struct {
	Topic string `json:"topic" validate:"max=200"`
}

// SessionQuery mirrors supported listing filters.
type SessionQuery struct {
	Status   []models.SessionStatus
	Page     int
	PageSize int
}
