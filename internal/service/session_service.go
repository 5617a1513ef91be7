package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	ApplyTransition(ctx context.Context, t repository.SessionTransition) error
	ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	ListStaleProposals(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error)
	HasConfirmedOverlap(ctx context.Context, tutorID string, start, end time.Time, excludeID string) (bool, error)
	MarkAttendance(ctx context.Context, sessionID, studentID string, at time.Time) error
}

type slotFinder interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
}

type sessionNotifier interface {
	NotifySession(ctx context.Context, ev SessionEvent)
}

type transitionMetrics interface {
	RecordTransition(action, status string, late bool)
	RecordConflict(action string)
}

type sweepObserver interface {
	ObserveSweep(duration time.Duration)
}

type publicSessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string)
}

const (
	publicCachePattern = "sessions:public:*"
	sweepBatchSize     = 100
	proposalExpired    = "PROPOSAL_EXPIRED"
)

// SessionServiceConfig tunes the session lifecycle.
type SessionServiceConfig struct {
	LateActionWindow        time.Duration
	RequireNegotiationTopic bool
	ProposalTTL             time.Duration
	PublicCacheTTL          time.Duration
}

// SessionService runs the negotiation state machine. Every mutation is a single
// conditional write against the (status, version) pair that was read, so a
// caller acting on a stale view gets CONFLICT instead of overwriting.
type SessionService struct {
	repo      sessionStore
	slots     slotFinder
	audit     auditLogger
	notifier  sessionNotifier
	metrics   transitionMetrics
	cache     publicSessionCache
	policy    *SessionPolicy
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SessionServiceConfig
	now       func() time.Time
}

// SessionServiceOption configures optional collaborators.
type SessionServiceOption func(*SessionService)

// WithSessionNotifier attaches the notification fan-out.
func WithSessionNotifier(n sessionNotifier) SessionServiceOption {
	return func(s *SessionService) { s.notifier = n }
}

// WithSessionMetrics attaches transition counters.
func WithSessionMetrics(m transitionMetrics) SessionServiceOption {
	return func(s *SessionService) { s.metrics = m }
}

// WithSessionCache attaches the public listing cache.
func WithSessionCache(c publicSessionCache) SessionServiceOption {
	return func(s *SessionService) { s.cache = c }
}

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSessionService constructs the service.
func NewSessionService(repo sessionStore, slots slotFinder, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg SessionServiceConfig, opts ...SessionServiceOption) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SessionService{
		repo:      repo,
		slots:     slots,
		audit:     audit,
		policy:    NewSessionPolicy(PolicyConfig{LateActionWindow: cfg.LateActionWindow, RequireNegotiationTopic: cfg.RequireNegotiationTopic}),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create books a new session request on behalf of a student.
func (s *SessionService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateSessionRequest) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can request sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.TutorID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot book a session with yourself")
	}

	now := s.now().UTC()
	mode := models.SessionMode(req.Mode)
	requestType := models.RequestType(req.RequestType)

	var start, end time.Time
	if req.SlotID != nil {
		slot, err := s.loadSlot(ctx, *req.SlotID)
		if err != nil {
			return nil, err
		}
		if slot.TutorID != req.TutorID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "slot belongs to a different tutor")
		}
		if slot.IsBooked {
			return nil, appErrors.Clone(appErrors.ErrResourceUnavailable, "slot is already booked")
		}
		start, end = slot.StartTime.UTC(), slot.EndTime.UTC()
		if req.StartTime != nil && req.EndTime != nil {
			start, end = req.StartTime.UTC(), req.EndTime.UTC()
		}
		if !slot.Covers(start, end) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "requested time falls outside the slot")
		}
		if !slot.Allows(mode) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "slot does not offer the requested mode")
		}
	} else {
		if req.StartTime == nil || req.EndTime == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start_time and end_time are required without a slot")
		}
		start, end = req.StartTime.UTC(), req.EndTime.UTC()
	}
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	if !start.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be in the future")
	}

	capacity := 1
	if requestType.Group() {
		if req.RequestedCapacity < 2 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "group sessions need a requested_capacity of at least 2")
		}
		capacity = req.RequestedCapacity
	}
	public := requestType == models.RequestPublicGroup
	if public && req.IsPublic != nil {
		public = *req.IsPublic
	}
	invited, err := s.policy.ValidateInvitations(requestType, req.InvitedEmails, actor.Email, capacity)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		StudentID:         actor.UserID,
		TutorID:           req.TutorID,
		StartTime:         start,
		EndTime:           end,
		Mode:              mode,
		Location:          trimmedPtr(req.Location),
		RequestType:       requestType,
		RequestedCapacity: capacity,
		MaxCapacity:       capacity,
		CurrentCapacity:   1,
		IsPublic:          public,
		Status:            models.SessionWaitingForTutor,
		Topic:             strings.TrimSpace(req.Topic),
		Note:              strings.TrimSpace(req.Note),
		SlotID:            req.SlotID,
		InvitedEmails:     invited,
		Version:           1,
		CreatedAt:         now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Internal(err, "failed to create session")
	}

	if s.metrics != nil {
		s.metrics.RecordTransition("create", string(session.Status), false)
	}
	s.emitAudit(ctx, actor, models.AuditActionSessionCreate, session.ID, nil, session, nil)
	s.notify(ctx, actor, session, models.NotificationSessionRequested, "A student requested a new session")
	return session, nil
}

// Get returns a session the actor may see.
func (s *SessionService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, session) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not part of this session")
	}
	return session, nil
}

// List returns the sessions visible to the actor's role.
func (s *SessionService) List(ctx context.Context, actor *models.JWTClaims, query dto.SessionQuery) ([]models.Session, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.SessionFilter{Status: query.Status, Page: query.Page, PageSize: query.PageSize}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTutor:
		filter.TutorID = actor.UserID
	case models.RoleCoordinator, models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list sessions")
	}
	for i := range sessions {
		if refreshed := s.completeIfDue(ctx, &sessions[i]); refreshed != nil {
			sessions[i] = *refreshed
		}
	}
	return sessions, models.NewPagination(query.Page, query.PageSize, total), nil
}

type publicPage struct {
	Items []models.Session `json:"items"`
	Total int              `json:"total"`
}

// ListPublic returns upcoming confirmed public sessions any student may join.
func (s *SessionService) ListPublic(ctx context.Context, page, size int) ([]models.Session, *models.Pagination, error) {
	pagination := models.NewPagination(page, size, 0)
	key := fmt.Sprintf("sessions:public:%d:%d", pagination.Page, pagination.PageSize)

	var cached publicPage
	if s.cache != nil && s.cache.Get(ctx, key, &cached) {
		pagination.TotalCount = cached.Total
		return cached.Items, pagination, nil
	}

	now := s.now().UTC()
	items, total, err := s.repo.List(ctx, models.SessionFilter{
		Status:     []models.SessionStatus{models.SessionConfirmed},
		PublicOnly: true,
		StartAfter: &now,
		Page:       pagination.Page,
		PageSize:   pagination.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list public sessions")
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, publicPage{Items: items, Total: total}, s.cfg.PublicCacheTTL)
	}
	pagination.TotalCount = total
	return items, pagination, nil
}

// Confirm accepts a pending request as the assigned tutor.
func (s *SessionService) Confirm(ctx context.Context, actor *models.JWTClaims, id string, req dto.ConfirmSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirmation payload")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.TutorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned tutor can confirm this session")
	}
	if err := requireState(session, ActionConfirm); err != nil {
		return nil, err
	}
	decision, err := s.policy.ValidateConfirm(session, req)
	if err != nil {
		return nil, err
	}
	if err := s.requireTutorFree(ctx, session, session.StartTime, session.EndTime, ActionConfirm); err != nil {
		return nil, err
	}

	next := *session
	next.Topic = decision.Topic
	next.MaxCapacity = decision.MaxCapacity
	next.IsPublic = decision.IsPublic
	next.Location = decision.Location
	next.Status = models.SessionConfirmed

	return s.apply(ctx, actor, change{
		action:      ActionConfirm,
		auditAction: models.AuditActionSessionConfirm,
		before:      session,
		after:       &next,
		claimSlot:   session.SlotID,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "Your session was confirmed",
	})
}

// Reject declines a pending request as the assigned tutor.
func (s *SessionService) Reject(ctx context.Context, actor *models.JWTClaims, id string, req dto.RejectSessionRequest) (*models.Session, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.TutorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned tutor can reject this session")
	}
	if err := requireState(session, ActionReject); err != nil {
		return nil, err
	}

	next := *session
	next.Status = models.SessionRejected
	next.StatusReason = &reason

	return s.apply(ctx, actor, change{
		action:      ActionReject,
		auditAction: models.AuditActionSessionReject,
		before:      session,
		after:       &next,
		reason:      reason,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "Your session request was declined: " + reason,
	})
}

// Negotiate stores a tutor counter-offer and hands the decision to the student.
func (s *SessionService) Negotiate(ctx context.Context, actor *models.JWTClaims, id string, req dto.NegotiateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid negotiation payload")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.TutorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned tutor can negotiate this session")
	}
	if err := requireState(session, ActionNegotiate); err != nil {
		return nil, err
	}
	proposal, err := s.policy.ValidateNegotiation(session, req, actor.UserID, s.now())
	if err != nil {
		return nil, err
	}
	if proposal.ChangesTime() {
		if err := s.requireTutorFree(ctx, session, *proposal.StartTime, *proposal.EndTime, ActionNegotiate); err != nil {
			return nil, err
		}
	}

	next := *session
	next.Proposal = proposal
	next.Status = models.SessionWaitingForStudent

	return s.apply(ctx, actor, change{
		action:      ActionNegotiate,
		auditAction: models.AuditActionSessionNegotiate,
		before:      session,
		after:       &next,
		reason:      proposal.Message,
		notifyType:  models.NotificationProposal,
		notifyText:  "Your tutor proposed changes: " + proposal.Message,
	})
}

// AcceptProposal applies the outstanding proposal and confirms the session. The
// student answers tutor counter-offers; the tutor answers student reschedules.
func (s *SessionService) AcceptProposal(ctx context.Context, actor *models.JWTClaims, id string, req dto.AcceptProposalRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acceptance payload")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionAcceptProposal); err != nil {
		return nil, err
	}
	proposal, err := requireProposalResponder(session, actor)
	if err != nil {
		return nil, err
	}

	next := MergeProposal(*session, *proposal)
	if topic := trimmedPtr(req.Topic); topic != nil {
		next.Topic = *topic
	}
	if loc := trimmedPtr(req.FinalLocationLink); loc != nil {
		next.Location = loc
	}
	if strings.TrimSpace(next.Topic) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "topic is required to confirm a session")
	}
	if err := s.requireTutorFree(ctx, session, next.StartTime, next.EndTime, ActionAcceptProposal); err != nil {
		return nil, err
	}
	next.Status = models.SessionConfirmed

	c := change{
		action:      ActionAcceptProposal,
		auditAction: models.AuditActionProposalAccept,
		before:      session,
		after:       &next,
		reason:      proposal.Message,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "The proposed changes were accepted",
	}
	if session.Status == models.SessionConfirmed {
		// Reschedule: the old booking is returned and the new slot taken.
		c.releaseSlot = session.SlotID
		c.claimSlot = proposal.SlotID
	} else {
		c.claimSlot = next.SlotID
	}
	return s.apply(ctx, actor, c)
}

// RejectProposal discards the outstanding proposal, which cancels the session.
func (s *SessionService) RejectProposal(ctx context.Context, actor *models.JWTClaims, id string, req dto.RejectSessionRequest) (*models.Session, error) {
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionRejectProposal); err != nil {
		return nil, err
	}
	if _, err := requireProposalResponder(session, actor); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "proposal rejected"
	}
	next := *session
	next.Proposal = nil
	next.Status = models.SessionCancelled
	next.StatusReason = &reason
	next.CancelledBy = &actor.UserID

	c := change{
		action:      ActionRejectProposal,
		auditAction: models.AuditActionProposalReject,
		before:      session,
		after:       &next,
		reason:      reason,
		notifyType:  models.NotificationSessionCancelled,
		notifyText:  "The proposal was rejected and the session cancelled",
	}
	if session.Status == models.SessionConfirmed {
		c.releaseSlot = session.SlotID
	}
	return s.apply(ctx, actor, c)
}

// Cancel ends a session. On a confirmed session the requester or the tutor may
// cancel; a pending request can only be withdrawn by its requester. Actions
// inside the late window succeed and are tagged.
func (s *SessionService) Cancel(ctx context.Context, actor *models.JWTClaims, id string, req dto.CancelSessionRequest) (*models.Session, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	action := ActionCancel
	switch {
	case session.Status.Pending():
		action = ActionCancelRequest
		if !isRequester(session, actor) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester can withdraw a pending request")
		}
	case session.Status == models.SessionConfirmed:
		if !isRequester(session, actor) && session.TutorID != actor.UserID {
			if _, joined := session.Participant(actor.UserID); joined {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "participants leave a public session instead of cancelling it")
			}
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not part of this session")
		}
	}
	if err := requireState(session, action); err != nil {
		return nil, err
	}

	late := s.policy.IsLate(session.StartTime, s.now())
	recorded := reason
	auditAction := models.AuditActionSessionCancel
	if late {
		recorded = TagLate(LateCancellationTag, reason)
		auditAction = models.AuditActionSessionCancelLate
	}

	next := *session
	next.Proposal = nil
	next.Status = models.SessionCancelled
	next.StatusReason = &recorded
	next.CancelledBy = &actor.UserID
	next.LateAction = session.LateAction || late

	c := change{
		action:      action,
		auditAction: auditAction,
		before:      session,
		after:       &next,
		late:        late,
		reason:      recorded,
		notifyType:  models.NotificationSessionCancelled,
		notifyText:  "The session was cancelled: " + reason,
	}
	if session.Status == models.SessionConfirmed {
		c.releaseSlot = session.SlotID
	}
	return s.apply(ctx, actor, c)
}

// Reschedule lets the requester propose moving a confirmed session into another
// free slot of the same tutor. The session stays confirmed until the tutor answers.
func (s *SessionService) Reschedule(ctx context.Context, actor *models.JWTClaims, id string, req dto.RescheduleSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !isRequester(session, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester can reschedule this session")
	}
	if err := requireState(session, ActionReschedule); err != nil {
		return nil, err
	}
	if session.Proposal != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a reschedule is already awaiting the tutor")
	}
	slot, err := s.loadSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	proposal, err := s.policy.ValidateReschedule(session, slot, req, actor.UserID, s.now())
	if err != nil {
		return nil, err
	}

	auditAction := models.AuditActionSessionReschedule
	reason := proposal.Message
	if proposal.LateAction {
		auditAction = models.AuditActionSessionRescheduleLate
		reason = TagLate(LateRescheduleTag, reason)
	}

	next := *session
	next.Proposal = proposal
	next.LateAction = session.LateAction || proposal.LateAction

	return s.apply(ctx, actor, change{
		action:      ActionReschedule,
		auditAction: auditAction,
		before:      session,
		after:       &next,
		late:        proposal.LateAction,
		reason:      reason,
		notifyType:  models.NotificationProposal,
		notifyText:  "A reschedule was requested: " + proposal.Message,
	})
}

// Join takes a seat in a public confirmed session.
func (s *SessionService) Join(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can join sessions")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionJoin); err != nil {
		return nil, err
	}
	if !session.IsPublic {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session is not open for joining")
	}
	if _, joined := session.Participant(actor.UserID); joined {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you have already joined this session")
	}
	if session.CurrentCapacity >= session.MaxCapacity {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is full")
	}

	now := s.now().UTC()
	next := *session
	next.CurrentCapacity++
	member := models.SessionParticipant{
		SessionID: session.ID,
		StudentID: actor.UserID,
		Status:    models.ParticipantJoined,
		JoinedAt:  now,
	}

	return s.apply(ctx, actor, change{
		action:      ActionJoin,
		auditAction: models.AuditActionSessionJoin,
		before:      session,
		after:       &next,
		participant: &member,
		notifyType:  models.NotificationParticipant,
		notifyText:  "A student joined the session",
	})
}

// Leave gives up a seat in a public session. The last leaver cancels the session.
// Leaving inside the late window marks the membership CANCELLED and tags the action.
func (s *SessionService) Leave(ctx context.Context, actor *models.JWTClaims, id string, req dto.LeaveSessionRequest) (*models.Session, error) {
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionLeave); err != nil {
		return nil, err
	}
	if !session.IsPublic {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only public sessions can be left; cancel instead")
	}
	member, joined := session.Participant(actor.UserID)
	if !joined {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not a participant of this session")
	}

	now := s.now().UTC()
	late := s.policy.IsLate(session.StartTime, now)
	reason := strings.TrimSpace(req.Reason)
	auditAction := models.AuditActionSessionLeave
	member.Status = models.ParticipantLeft
	if late {
		member.Status = models.ParticipantCancelled
		member.Late = true
		auditAction = models.AuditActionSessionLeaveLate
		reason = TagLate(LateLeaveTag, reason)
	}
	member.LeftAt = &now

	next := *session
	next.CurrentCapacity--
	if next.CurrentCapacity < 0 {
		next.CurrentCapacity = 0
	}
	next.LateAction = session.LateAction || late

	c := change{
		action:      ActionLeave,
		auditAction: auditAction,
		before:      session,
		after:       &next,
		participant: &member,
		late:        late,
		reason:      reason,
		notifyType:  models.NotificationParticipant,
		notifyText:  "A student left the session",
	}
	if next.CurrentCapacity == 0 {
		emptied := "all participants left"
		if late {
			emptied = TagLate(LateLeaveTag, emptied)
		}
		next.Status = models.SessionCancelled
		next.Proposal = nil
		next.StatusReason = &emptied
		next.CancelledBy = &actor.UserID
		c.releaseSlot = session.SlotID
		c.notifyType = models.NotificationSessionCancelled
		c.notifyText = "The session was cancelled because every participant left"
	}
	return s.apply(ctx, actor, c)
}

// Complete marks a confirmed session whose start time has passed as completed.
func (s *SessionService) Complete(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TutorID != actor.UserID && !actor.Role.Supervisor() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the tutor or a coordinator can complete this session")
	}
	if err := requireState(session, ActionComplete); err != nil {
		return nil, err
	}
	if session.StartTime.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session has not started yet")
	}
	return s.complete(ctx, actor, session)
}

// OverrideStatus lets a coordinator force a status outside the negotiation
// protocol. Terminal sessions stay final.
func (s *SessionService) OverrideStatus(ctx context.Context, actor *models.JWTClaims, id string, req dto.OverrideStatusRequest) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.Supervisor() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators can override session status")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionOverride); err != nil {
		return nil, err
	}
	target := models.SessionStatus(req.Status)
	if target == session.Status {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("session is already %s", target))
	}
	switch target {
	case models.SessionCompleted:
		if session.Status != models.SessionConfirmed {
			return nil, appErrors.Clone(appErrors.ErrConflict, "only confirmed sessions can be completed")
		}
	case models.SessionConfirmed:
		if strings.TrimSpace(session.Topic) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "topic is required to confirm a session")
		}
		if err := s.requireTutorFree(ctx, session, session.StartTime, session.EndTime, ActionOverride); err != nil {
			return nil, err
		}
	}

	next := *session
	next.Status = target
	next.Proposal = nil
	reason := strings.TrimSpace(req.Reason)
	if reason != "" {
		next.StatusReason = &reason
	}
	c := change{
		action:      ActionOverride,
		auditAction: models.AuditActionSessionOverride,
		before:      session,
		after:       &next,
		reason:      reason,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  fmt.Sprintf("A coordinator set the session to %s", target),
	}

	wasConfirmed := session.Status == models.SessionConfirmed
	switch {
	case target == models.SessionConfirmed:
		c.claimSlot = session.SlotID
	case wasConfirmed && target != models.SessionCompleted:
		c.releaseSlot = session.SlotID
	}
	if target == models.SessionCancelled || target == models.SessionRejected {
		next.CancelledBy = &actor.UserID
	}
	return s.apply(ctx, actor, c)
}

// RespondInvite records an invited student's answer to a private group session.
// Accepting takes a seat while one is free; declining drops the invitation.
func (s *SessionService) RespondInvite(ctx context.Context, actor *models.JWTClaims, id, answer string) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can answer invitations")
	}
	var accept bool
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "accept":
		accept = true
	case "decline":
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be accept or decline")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireState(session, ActionRespondInvite); err != nil {
		return nil, err
	}
	if !session.Invited(actor.Email) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you were not invited to this session")
	}
	_, joined := session.Participant(actor.UserID)

	next := *session
	c := change{
		action: ActionRespondInvite,
		before: session,
		after:  &next,
	}
	if accept {
		if joined {
			return nil, appErrors.Clone(appErrors.ErrValidation, "you have already joined this session")
		}
		if session.CurrentCapacity >= session.MaxCapacity {
			return nil, appErrors.Clone(appErrors.ErrValidation, "session is full")
		}
		next.CurrentCapacity++
		c.participant = &models.SessionParticipant{
			SessionID: session.ID,
			StudentID: actor.UserID,
			Status:    models.ParticipantJoined,
			JoinedAt:  s.now().UTC(),
		}
		c.auditAction = models.AuditActionInviteAccept
		c.notifyType = models.NotificationParticipant
		c.notifyText = "An invited student joined the session"
	} else {
		if joined {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invitation was already accepted")
		}
		next.InvitedEmails = withoutEmail(session.InvitedEmails, actor.Email)
		c.auditAction = models.AuditActionInviteDecline
		c.notifyType = models.NotificationParticipant
		c.notifyText = "An invited student declined the session"
	}
	return s.apply(ctx, actor, c)
}

// MarkAttendance records that the calling student attended. It opens when the
// session starts and stays open after completion; each student marks once.
func (s *SessionService) MarkAttendance(ctx context.Context, actor *models.JWTClaims, id string) (*models.SessionParticipant, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can mark attendance")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	member, joined := session.Participant(actor.UserID)
	if !joined {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only enrolled students can mark attendance for this session")
	}
	now := s.now().UTC()
	if err := s.policy.ValidateAttendance(session, now); err != nil {
		return nil, err
	}
	if member.AttendedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already marked for this session")
	}
	if err := s.repo.MarkAttendance(ctx, session.ID, actor.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already marked for this session")
		}
		return nil, appErrors.Internal(err, "failed to mark attendance")
	}
	member.AttendedAt = &now
	s.emitAudit(ctx, actor, models.AuditActionAttendanceMark, session.ID, nil, nil, nil)
	return &member, nil
}

// UpdateLocation changes where a session takes place.
func (s *SessionService) UpdateLocation(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateLocationRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid location payload")
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "location is required")
	}
	session, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *session
	next.Location = &location
	if req.Mode != nil {
		next.Mode = models.SessionMode(*req.Mode)
	}
	return s.apply(ctx, actor, change{
		action:      ActionUpdateDetails,
		auditAction: models.AuditActionSessionUpdate,
		before:      session,
		after:       &next,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "The session location changed to " + location,
	})
}

// UpdateTopic changes a session's topic.
func (s *SessionService) UpdateTopic(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateTopicRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "topic is required")
	}
	session, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *session
	next.Topic = topic
	return s.apply(ctx, actor, change{
		action:      ActionUpdateDetails,
		auditAction: models.AuditActionSessionUpdate,
		before:      session,
		after:       &next,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "The session topic changed to " + topic,
	})
}

// SweepCompleted completes every confirmed session whose start time has passed.
func (s *SessionService) SweepCompleted(ctx context.Context) (int, error) {
	due, err := s.repo.ListDueForCompletion(ctx, s.now().UTC(), sweepBatchSize)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to list sessions due for completion")
	}
	completed := 0
	for i := range due {
		if _, err := s.complete(ctx, nil, &due[i]); err != nil {
			s.logger.Debug("skipping session in completion sweep", zap.String("session_id", due[i].ID), zap.Error(err))
			continue
		}
		completed++
	}
	return completed, nil
}

// ExpireProposals cancels tutor counter-offers left unanswered longer than the
// configured TTL. A zero TTL disables expiry.
func (s *SessionService) ExpireProposals(ctx context.Context) (int, error) {
	if s.cfg.ProposalTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.cfg.ProposalTTL)
	stale, err := s.repo.ListStaleProposals(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to list stale proposals")
	}
	expired := 0
	for i := range stale {
		session := &stale[i]
		if session.Proposal == nil || session.Proposal.ProposedAt.After(cutoff) {
			continue
		}
		reason := proposalExpired
		next := *session
		next.Proposal = nil
		next.Status = models.SessionCancelled
		next.StatusReason = &reason
		_, err := s.apply(ctx, nil, change{
			action:      ActionExpireProposal,
			auditAction: models.AuditActionProposalExpire,
			before:      session,
			after:       &next,
			reason:      reason,
			notifyType:  models.NotificationSessionCancelled,
			notifyText:  "The proposal expired without an answer and the session was cancelled",
		})
		if err != nil {
			s.logger.Debug("skipping proposal expiry", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// Sweep runs the periodic maintenance: completing elapsed sessions and
// expiring stale proposals.
func (s *SessionService) Sweep(ctx context.Context) error {
	start := s.now()
	completed, err := s.SweepCompleted(ctx)
	if err != nil {
		return err
	}
	expired, err := s.ExpireProposals(ctx)
	if err != nil {
		return err
	}
	if obs, ok := s.metrics.(sweepObserver); ok {
		obs.ObserveSweep(s.now().Sub(start))
	}
	if completed > 0 || expired > 0 {
		s.logger.Info("session sweep", zap.Int("completed", completed), zap.Int("expired_proposals", expired))
	}
	return nil
}

// change is one state-machine step ready to be written.
type change struct {
	action      SessionAction
	auditAction string
	before      *models.Session
	after       *models.Session
	claimSlot   *string
	releaseSlot *string
	participant *models.SessionParticipant
	late        bool
	reason      string
	notifyType  models.NotificationType
	notifyText  string
}

// apply writes c conditioned on the status and version c.before was read at,
// then records the side effects. A nil actor means the system acted.
func (s *SessionService) apply(ctx context.Context, actor *models.JWTClaims, c change) (*models.Session, error) {
	if !CanTransition(c.before.Status, c.action) {
		return nil, conflictFor(c.before, c.action)
	}
	if !c.after.EndTime.After(c.after.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	if c.after.CurrentCapacity > c.after.MaxCapacity {
		return nil, appErrors.Clone(appErrors.ErrValidation, "capacity cannot be below the number of joined students")
	}

	c.after.UpdatedAt = s.now().UTC()
	err := s.repo.ApplyTransition(ctx, repository.SessionTransition{
		Session:         c.after,
		ExpectedStatus:  c.before.Status,
		ExpectedVersion: c.before.Version,
		ClaimSlotID:     c.claimSlot,
		ReleaseSlotID:   c.releaseSlot,
		Participant:     c.participant,
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if s.metrics != nil {
			s.metrics.RecordConflict(string(c.action))
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "session was changed by someone else; reload and try again")
	case errors.Is(err, repository.ErrSlotUnavailable):
		return nil, appErrors.Clone(appErrors.ErrResourceUnavailable, "the availability slot is no longer free")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to update session")
	}

	if c.participant != nil {
		c.after.Participants = withParticipant(c.before.Participants, *c.participant)
	}
	if s.metrics != nil {
		s.metrics.RecordTransition(string(c.action), string(c.after.Status), c.late)
	}
	var reason *string
	if c.reason != "" {
		reason = &c.reason
	}
	s.emitAudit(ctx, actor, c.auditAction, c.after.ID, c.before, c.after, reason)
	if c.notifyType != "" {
		s.notify(ctx, actor, c.after, c.notifyType, c.notifyText)
	}
	if s.cache != nil && (c.before.IsPublic || c.after.IsPublic) {
		s.cache.Invalidate(ctx, publicCachePattern)
	}
	return c.after, nil
}

func (s *SessionService) complete(ctx context.Context, actor *models.JWTClaims, session *models.Session) (*models.Session, error) {
	next := *session
	next.Status = models.SessionCompleted
	next.Proposal = nil
	return s.apply(ctx, actor, change{
		action:      ActionComplete,
		auditAction: models.AuditActionSessionComplete,
		before:      session,
		after:       &next,
		notifyType:  models.NotificationSessionUpdated,
		notifyText:  "The session is complete. Leave feedback for your tutor",
	})
}

// completeIfDue lazily completes a confirmed session whose start has passed.
// It returns the stored row when something changed, nil otherwise.
func (s *SessionService) completeIfDue(ctx context.Context, session *models.Session) *models.Session {
	if session.Status != models.SessionConfirmed || session.StartTime.After(s.now()) {
		return nil
	}
	done, err := s.complete(ctx, nil, session)
	if err == nil {
		return done
	}
	if errors.Is(err, appErrors.ErrConflict) {
		if fresh, ferr := s.repo.FindByID(ctx, session.ID); ferr == nil {
			return fresh
		}
	}
	s.logger.Warn("lazy completion failed", zap.String("session_id", session.ID), zap.Error(err))
	return nil
}

func (s *SessionService) find(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}
	return session, nil
}

// load reads a session and brings an elapsed confirmed session up to COMPLETED.
func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if refreshed := s.completeIfDue(ctx, session); refreshed != nil {
		return refreshed, nil
	}
	return session, nil
}

func (s *SessionService) loadFor(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return s.load(ctx, id)
}

func (s *SessionService) loadEditable(ctx context.Context, actor *models.JWTClaims, id string) (*models.Session, error) {
	session, err := s.loadFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if session.TutorID != actor.UserID && !actor.Role.Supervisor() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the tutor can edit session details")
	}
	if err := requireState(session, ActionUpdateDetails); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) loadSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	if s.slots == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "availability slot not found")
	}
	slot, err := s.slots.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability slot not found")
		}
		return nil, appErrors.Internal(err, "failed to load availability slot")
	}
	return slot, nil
}

type sessionSnapshot struct {
	Status          models.SessionStatus `json:"status"`
	Version         int                  `json:"version"`
	StartTime       time.Time            `json:"start_time"`
	EndTime         time.Time            `json:"end_time"`
	Topic           string               `json:"topic"`
	MaxCapacity     int                  `json:"max_capacity"`
	CurrentCapacity int                  `json:"current_capacity"`
	IsPublic        bool                 `json:"is_public"`
	LateAction      bool                 `json:"late_action"`
	Proposal        *models.Proposal     `json:"proposal,omitempty"`
}

func snapshot(session *models.Session) []byte {
	if session == nil {
		return nil
	}
	raw, err := json.Marshal(sessionSnapshot{
		Status:          session.Status,
		Version:         session.Version,
		StartTime:       session.StartTime,
		EndTime:         session.EndTime,
		Topic:           session.Topic,
		MaxCapacity:     session.MaxCapacity,
		CurrentCapacity: session.CurrentCapacity,
		IsPublic:        session.IsPublic,
		LateAction:      session.LateAction,
		Proposal:        session.Proposal,
	})
	if err != nil {
		return nil
	}
	return raw
}

func (s *SessionService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, sessionID string, before, after *models.Session, reason *string) {
	if s.audit == nil {
		return
	}
	meta := RequestMetaFrom(ctx)
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "session",
		ResourceID: &sessionID,
		OldValues:  snapshot(before),
		NewValues:  snapshot(after),
		Reason:     reason,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actor != nil {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionService) notify(ctx context.Context, actor *models.JWTClaims, session *models.Session, kind models.NotificationType, message string) {
	if s.notifier == nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	s.notifier.NotifySession(ctx, SessionEvent{Session: session, Type: kind, Message: message, ActorID: actorID})
}

// requireTutorFree refuses a window that collides with another confirmed
// session of the same tutor.
func (s *SessionService) requireTutorFree(ctx context.Context, session *models.Session, start, end time.Time, action SessionAction) error {
	busy, err := s.repo.HasConfirmedOverlap(ctx, session.TutorID, start, end, session.ID)
	if err != nil {
		return appErrors.Internal(err, "failed to check the tutor's schedule")
	}
	if busy {
		if s.metrics != nil {
			s.metrics.RecordConflict(string(action))
		}
		return appErrors.Clone(appErrors.ErrConflict, "proposed time overlaps with another confirmed session")
	}
	return nil
}

func requireState(session *models.Session, action SessionAction) error {
	if CanTransition(session.Status, action) {
		return nil
	}
	return conflictFor(session, action)
}

func conflictFor(session *models.Session, action SessionAction) error {
	return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot %s a session that is %s", strings.ReplaceAll(string(action), "_", " "), session.Status))
}

// requireProposalResponder returns the outstanding proposal when actor is the
// party expected to answer it.
func requireProposalResponder(session *models.Session, actor *models.JWTClaims) (*models.Proposal, error) {
	p := session.Proposal
	if p == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "no proposal is awaiting a response")
	}
	responder := session.StudentID
	if p.Acceptor() == models.RoleTutor {
		responder = session.TutorID
	}
	if actor.UserID != responder {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the other party can answer this proposal")
	}
	return p, nil
}

// isRequester reports whether actor booked the session. In group sessions the
// requester loses that standing once they give up their seat.
func isRequester(session *models.Session, actor *models.JWTClaims) bool {
	if session.StudentID != actor.UserID {
		return false
	}
	if !session.RequestType.Group() {
		return true
	}
	_, joined := session.Participant(actor.UserID)
	return joined
}

func canView(actor *models.JWTClaims, session *models.Session) bool {
	if actor.Role.Supervisor() || session.Involves(actor.UserID) || session.Invited(actor.Email) {
		return true
	}
	return session.IsPublic && actor.Role == models.RoleStudent
}

func withoutEmail(emails []string, email string) []string {
	email = models.NormalizeEmail(email)
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if e != email {
			out = append(out, e)
		}
	}
	return out
}

func withParticipant(existing []models.SessionParticipant, p models.SessionParticipant) []models.SessionParticipant {
	out := make([]models.SessionParticipant, 0, len(existing)+1)
	replaced := false
	for _, cur := range existing {
		if cur.StudentID == p.StudentID {
			out = append(out, p)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, p)
	}
	return out
}
