package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Proposal is an outstanding counter-offer on a session. Only fields that are set
// replace the session's current values when the proposal is accepted.
type Proposal struct {
	ProposedBy  UserRole     `json:"proposed_by"`
	ProposerID  string       `json:"proposer_id"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	Mode        *SessionMode `json:"mode,omitempty"`
	Location    *string      `json:"location,omitempty"`
	Topic       *string      `json:"topic,omitempty"`
	MaxCapacity *int         `json:"max_capacity,omitempty"`
	IsPublic    *bool        `json:"is_public,omitempty"`
	SlotID      *string      `json:"slot_id,omitempty"`
	Message     string       `json:"message"`
	LateAction  bool         `json:"late_action"`
	ProposedAt  time.Time    `json:"proposed_at"`
}

// ChangesTime reports whether the proposal moves the session window.
func (p Proposal) ChangesTime() bool {
	return p.StartTime != nil && p.EndTime != nil
}

// Acceptor is the role expected to answer the proposal.
func (p Proposal) Acceptor() UserRole {
	if p.ProposedBy == RoleStudent {
		return RoleTutor
	}
	return RoleStudent
}

// Value stores the proposal as JSON.
func (p Proposal) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan decodes a JSON column.
func (p *Proposal) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan proposal: unsupported type %T", src)
	}
	if len(raw) == 0 {
		return errors.New("scan proposal: empty value")
	}
	return json.Unmarshal(raw, p)
}
