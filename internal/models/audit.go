package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionSessionCreate         = "SESSION_CREATE"
	AuditActionSessionConfirm        = "SESSION_CONFIRM"
	AuditActionSessionReject         = "SESSION_REJECT"
	AuditActionSessionNegotiate      = "SESSION_NEGOTIATE"
	AuditActionProposalAccept        = "SESSION_PROPOSAL_ACCEPT"
	AuditActionProposalReject        = "SESSION_PROPOSAL_REJECT"
	AuditActionProposalExpire        = "SESSION_PROPOSAL_EXPIRE"
	AuditActionSessionCancel         = "SESSION_CANCEL"
	AuditActionSessionCancelLate     = "SESSION_CANCEL_LATE"
	AuditActionSessionReschedule     = "SESSION_RESCHEDULE"
	AuditActionSessionRescheduleLate = "SESSION_RESCHEDULE_LATE"
	AuditActionSessionJoin           = "SESSION_JOIN"
	AuditActionSessionLeave          = "SESSION_LEAVE"
	AuditActionSessionLeaveLate      = "SESSION_LEAVE_LATE"
	AuditActionSessionComplete       = "SESSION_COMPLETE"
	AuditActionSessionOverride       = "SESSION_STATUS_OVERRIDE"
	AuditActionSessionUpdate         = "SESSION_UPDATE"
	AuditActionInviteAccept          = "SESSION_INVITE_ACCEPT"
	AuditActionInviteDecline         = "SESSION_INVITE_DECLINE"
	AuditActionAttendanceMark        = "ATTENDANCE_MARK"
	AuditActionSlotCreate            = "SLOT_CREATE"
	AuditActionSlotDelete            = "SLOT_DELETE"
	AuditActionFeedbackCreate        = "FEEDBACK_CREATE"
)

// LateAuditActions are the actions flagged by the late-action window.
var LateAuditActions = []string{
	AuditActionSessionCancelLate,
	AuditActionSessionRescheduleLate,
	AuditActionSessionLeaveLate,
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter constrains audit log queries.
type AuditFilter struct {
	Actions    []string
	UserID     string
	ResourceID string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}
