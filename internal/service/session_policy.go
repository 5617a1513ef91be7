package service

import (
	"strings"
	"time"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

// SessionAction names an operation of the session state machine.
type SessionAction string

const (
	ActionConfirm        SessionAction = "confirm"
	ActionReject         SessionAction = "reject"
	ActionNegotiate      SessionAction = "negotiate"
	ActionAcceptProposal SessionAction = "accept_proposal"
	ActionRejectProposal SessionAction = "reject_proposal"
	ActionExpireProposal SessionAction = "expire_proposal"
	ActionCancel         SessionAction = "cancel"
	ActionCancelRequest  SessionAction = "cancel_request"
	ActionReschedule     SessionAction = "reschedule"
	ActionJoin           SessionAction = "join"
	ActionLeave          SessionAction = "leave"
	ActionComplete       SessionAction = "complete"
	ActionOverride       SessionAction = "override"
	ActionUpdateDetails  SessionAction = "update_details"
	ActionRespondInvite  SessionAction = "respond_invite"
)

func actions(list ...SessionAction) map[SessionAction]struct{} {
	set := make(map[SessionAction]struct{}, len(list))
	for _, a := range list {
		set[a] = struct{}{}
	}
	return set
}

// transitions lists the actions allowed from each non-terminal status.
// Terminal statuses have no entry.
var transitions = map[models.SessionStatus]map[SessionAction]struct{}{
	models.SessionWaitingForTutor: actions(
		ActionConfirm, ActionReject, ActionNegotiate, ActionCancelRequest,
		ActionOverride, ActionUpdateDetails,
	),
	models.SessionWaitingForStudent: actions(
		ActionAcceptProposal, ActionRejectProposal, ActionExpireProposal,
		ActionCancelRequest, ActionOverride,
	),
	models.SessionConfirmed: actions(
		ActionCancel, ActionReschedule, ActionAcceptProposal, ActionRejectProposal,
		ActionJoin, ActionLeave, ActionComplete, ActionOverride, ActionUpdateDetails,
		ActionRespondInvite,
	),
}

// CanTransition reports whether action may run while a session is in status from.
func CanTransition(from models.SessionStatus, action SessionAction) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[action]
	return ok
}

// Prefixes applied to reasons recorded inside the late-action window.
const (
	LateCancellationTag = "LATE_CANCELLATION"
	LateRescheduleTag   = "LATE_RESCHEDULE"
	LateLeaveTag        = "LATE_LEAVE"
)

// TagLate prefixes reason with a late marker so reports can pick it out.
func TagLate(tag, reason string) string {
	if reason == "" {
		return tag
	}
	return tag + ": " + reason
}

// PolicyConfig tunes the guard rules.
type PolicyConfig struct {
	LateActionWindow        time.Duration
	RequireNegotiationTopic bool
}

// SessionPolicy holds the pure guard rules of the negotiation lifecycle. It has
// no storage access so the same rules apply to every caller.
type SessionPolicy struct {
	lateWindow   time.Duration
	requireTopic bool
}

// NewSessionPolicy constructs the policy; a non-positive window falls back to two hours.
func NewSessionPolicy(cfg PolicyConfig) *SessionPolicy {
	window := cfg.LateActionWindow
	if window <= 0 {
		window = 2 * time.Hour
	}
	return &SessionPolicy{lateWindow: window, requireTopic: cfg.RequireNegotiationTopic}
}

// IsLate reports whether an action at now falls inside the window before start.
// Late actions are tagged, never refused.
func (p *SessionPolicy) IsLate(start, now time.Time) bool {
	return start.Sub(now) < p.lateWindow
}

// ConfirmDecision is the normalised outcome of a confirmation payload.
type ConfirmDecision struct {
	Topic       string
	MaxCapacity int
	IsPublic    bool
	Location    *string
}

// ValidateConfirm checks a tutor's confirmation. Topic is mandatory. Public group
// capacity is clamped to what was requested; other types keep their capacity.
func (p *SessionPolicy) ValidateConfirm(s *models.Session, req dto.ConfirmSessionRequest) (ConfirmDecision, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return ConfirmDecision{}, appErrors.Clone(appErrors.ErrValidation, "topic is required to confirm a session")
	}

	decision := ConfirmDecision{
		Topic:       topic,
		MaxCapacity: s.MaxCapacity,
		IsPublic:    s.IsPublic,
		Location:    s.Location,
	}

	switch s.RequestType {
	case models.RequestPublicGroup:
		capacity := s.RequestedCapacity
		if req.MaxCapacity != nil && *req.MaxCapacity < capacity {
			capacity = *req.MaxCapacity
		}
		if capacity < s.CurrentCapacity {
			capacity = s.CurrentCapacity
		}
		decision.MaxCapacity = capacity
		if req.IsPublic != nil {
			decision.IsPublic = *req.IsPublic
		}
	case models.RequestPrivateGroup:
		if req.IsPublic != nil {
			decision.IsPublic = *req.IsPublic
		}
	default:
		decision.IsPublic = false
	}

	if loc := trimmedPtr(req.FinalLocationLink); loc != nil {
		decision.Location = loc
	}
	return decision, nil
}

// ValidateInvitations normalises the addresses a private group requester invites.
// Duplicates and the requester's own address are dropped; every invitee needs a seat.
func (p *SessionPolicy) ValidateInvitations(rt models.RequestType, emails []string, ownEmail string, capacity int) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	if rt != models.RequestPrivateGroup {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invitations are only sent for private group sessions")
	}
	own := models.NormalizeEmail(ownEmail)
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, raw := range emails {
		email := models.NormalizeEmail(raw)
		if email == "" || email == own {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	if len(out) > capacity-1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "more invitations than free seats")
	}
	return out, nil
}

// ValidateAttendance checks that attendance is open: the session is running or completed.
func (p *SessionPolicy) ValidateAttendance(s *models.Session, now time.Time) error {
	switch {
	case s.Status == models.SessionCompleted:
		return nil
	case s.Status == models.SessionConfirmed && !now.Before(s.StartTime) && now.Before(s.EndTime):
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, "attendance can only be marked during a running session or after it completes")
}

// ValidateNegotiation turns a tutor counter-offer into a Proposal.
func (p *SessionPolicy) ValidateNegotiation(s *models.Session, req dto.NegotiateSessionRequest, proposerID string, now time.Time) (*models.Proposal, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message is required to explain the proposal")
	}
	topic := trimmedPtr(req.NewTopic)
	if p.requireTopic && topic == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_topic is required")
	}

	proposal := &models.Proposal{
		ProposedBy: models.RoleTutor,
		ProposerID: proposerID,
		Topic:      topic,
		Message:    message,
		ProposedAt: now.UTC(),
	}
	// A supplied topic is the tutor's topic for the session, even when it repeats the current one.
	changed := topic != nil

	if (req.NewStartTime == nil) != (req.NewEndTime == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new_start_time and new_end_time must be provided together")
	}
	if req.NewStartTime != nil {
		start, end := req.NewStartTime.UTC(), req.NewEndTime.UTC()
		if !end.After(start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "new_end_time must be after new_start_time")
		}
		if !start.After(now) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "proposed start time must be in the future")
		}
		if !start.Equal(s.StartTime) || !end.Equal(s.EndTime) {
			proposal.StartTime, proposal.EndTime = &start, &end
			changed = true
		}
	}

	if req.NewMode != nil {
		mode := models.SessionMode(*req.NewMode)
		if !mode.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "new_mode is not a supported mode")
		}
		if mode != s.Mode {
			proposal.Mode = &mode
			changed = true
		}
	}

	if loc := trimmedPtr(req.NewLocation); loc != nil && (s.Location == nil || *s.Location != *loc) {
		proposal.Location = loc
		changed = true
	}

	if req.NewMaxCapacity != nil {
		capacity := *req.NewMaxCapacity
		if s.RequestType == models.RequestOneOnOne && capacity != 1 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "one-on-one sessions have a capacity of 1")
		}
		if capacity < s.CurrentCapacity {
			return nil, appErrors.Clone(appErrors.ErrValidation, "new_max_capacity cannot be below the number of joined students")
		}
		if capacity != s.MaxCapacity {
			proposal.MaxCapacity = &capacity
			changed = true
		}
	}

	if req.NewIsPublic != nil {
		if *req.NewIsPublic && !s.RequestType.Group() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "only group sessions can be made public")
		}
		if *req.NewIsPublic != s.IsPublic {
			visible := *req.NewIsPublic
			proposal.IsPublic = &visible
			changed = true
		}
	}

	if !changed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposal does not change the session")
	}
	return proposal, nil
}

// ValidateReschedule builds a student reschedule proposal against a free slot of
// the session's tutor. The slot is only claimed when the tutor accepts.
func (p *SessionPolicy) ValidateReschedule(s *models.Session, slot *models.AvailabilitySlot, req dto.RescheduleSessionRequest, proposerID string, now time.Time) (*models.Proposal, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message is required to explain the reschedule")
	}
	if slot.TutorID != s.TutorID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot belongs to a different tutor")
	}
	if slot.IsBooked {
		return nil, appErrors.Clone(appErrors.ErrResourceUnavailable, "slot is already booked")
	}

	start, end := slot.StartTime.UTC(), slot.EndTime.UTC()
	if (req.StartTime == nil) != (req.EndTime == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time and end_time must be provided together")
	}
	if req.StartTime != nil {
		start, end = req.StartTime.UTC(), req.EndTime.UTC()
	}
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	if !slot.Covers(start, end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested time falls outside the slot")
	}
	if !start.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new start time must be in the future")
	}

	mode := s.Mode
	if req.Mode != nil {
		mode = models.SessionMode(*req.Mode)
	}
	if !slot.Allows(mode) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot does not offer the requested mode")
	}

	slotID := slot.ID
	return &models.Proposal{
		ProposedBy: models.RoleStudent,
		ProposerID: proposerID,
		StartTime:  &start,
		EndTime:    &end,
		Mode:       &mode,
		SlotID:     &slotID,
		Message:    message,
		LateAction: p.IsLate(s.StartTime, now),
		ProposedAt: now.UTC(),
	}, nil
}

// MergeProposal returns a copy of s with the proposal's values applied and the
// proposal cleared. Moving the time without a slot detaches the booking slot.
func MergeProposal(s models.Session, p models.Proposal) models.Session {
	if p.ChangesTime() {
		s.StartTime, s.EndTime = *p.StartTime, *p.EndTime
		s.SlotID = nil
	}
	if p.SlotID != nil {
		id := *p.SlotID
		s.SlotID = &id
	}
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.Location != nil {
		loc := *p.Location
		s.Location = &loc
	}
	if p.Topic != nil {
		s.Topic = *p.Topic
	}
	if p.MaxCapacity != nil {
		s.MaxCapacity = *p.MaxCapacity
	}
	if p.IsPublic != nil {
		s.IsPublic = *p.IsPublic
	}
	s.Proposal = nil
	return s
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
