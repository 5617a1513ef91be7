package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

// memSessionStore mimics the conditional write of SessionRepository in memory.
type memSessionStore struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]models.Session
	slots    map[string]models.AvailabilitySlot
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]models.Session{}, slots: map[string]models.AvailabilitySlot{}}
}

func cloneSession(s models.Session) models.Session {
	s.Participants = append([]models.SessionParticipant(nil), s.Participants...)
	return s
}

func (m *memSessionStore) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("ses-%d", m.seq)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	s.Participants = []models.SessionParticipant{{SessionID: s.ID, StudentID: s.StudentID, Status: models.ParticipantJoined, JoinedAt: s.CreatedAt}}
	m.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (m *memSessionStore) FindByID(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneSession(s)
	return &out, nil
}

func (m *memSessionStore) List(_ context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Session{}
	for _, s := range m.sessions {
		if filter.PublicOnly && !s.IsPublic {
			continue
		}
		if filter.TutorID != "" && s.TutorID != filter.TutorID {
			continue
		}
		if filter.StudentID != "" && !s.Involves(filter.StudentID) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	return out, len(out), nil
}

func (m *memSessionStore) ListDueForCompletion(_ context.Context, now time.Time, _ int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Session{}
	for _, s := range m.sessions {
		if s.Status == models.SessionConfirmed && !s.StartTime.After(now) {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (m *memSessionStore) ListStaleProposals(_ context.Context, cutoff time.Time, _ int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Session{}
	for _, s := range m.sessions {
		if s.Status == models.SessionWaitingForStudent && s.Proposal != nil && !s.Proposal.ProposedAt.After(cutoff) {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (m *memSessionStore) ApplyTransition(_ context.Context, t repository.SessionTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[t.Session.ID]
	if !ok || cur.Status != t.ExpectedStatus || cur.Version != t.ExpectedVersion {
		return sql.ErrNoRows
	}
	if t.ClaimSlotID != nil {
		slot, ok := m.slots[*t.ClaimSlotID]
		if !ok || slot.IsBooked {
			return repository.ErrSlotUnavailable
		}
	}
	if t.ReleaseSlotID != nil {
		if slot, ok := m.slots[*t.ReleaseSlotID]; ok {
			slot.IsBooked = false
			slot.SessionID = nil
			m.slots[slot.ID] = slot
		}
	}
	if t.ClaimSlotID != nil {
		slot := m.slots[*t.ClaimSlotID]
		slot.IsBooked = true
		id := t.Session.ID
		slot.SessionID = &id
		m.slots[slot.ID] = slot
	}

	next := cloneSession(*t.Session)
	next.Version = t.ExpectedVersion + 1
	next.Participants = cur.Participants
	if t.Participant != nil {
		next.Participants = withParticipant(cur.Participants, *t.Participant)
	}
	m.sessions[next.ID] = next
	t.Session.Version = next.Version
	return nil
}

func (m *memSessionStore) HasConfirmedOverlap(_ context.Context, tutorID string, start, end time.Time, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == excludeID || s.TutorID != tutorID || s.Status != models.SessionConfirmed {
			continue
		}
		if s.StartTime.Before(end) && s.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memSessionStore) MarkAttendance(_ context.Context, sessionID, studentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, p := range s.Participants {
		if p.StudentID == studentID && p.Status == models.ParticipantJoined && p.AttendedAt == nil {
			stamped := at
			s.Participants[i].AttendedAt = &stamped
			m.sessions[sessionID] = s
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memSessionStore) mutate(id string, fn func(*models.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	fn(&s)
	m.sessions[id] = s
}

func (m *memSessionStore) addSlot(slot models.AvailabilitySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = slot
}

func (m *memSessionStore) slot(id string) models.AvailabilitySlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

type memSlotFinder struct{ store *memSessionStore }

func (f memSlotFinder) FindByID(_ context.Context, id string) (*models.AvailabilitySlot, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	slot, ok := f.store.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &slot, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

func (r *recordingAudit) last() models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[len(r.logs)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recordingNotifier) NotifySession(_ context.Context, ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	late        int
	conflicts   int
}

func (r *recordingMetrics) RecordTransition(action, status string, late bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, action+":"+status)
	if late {
		r.late++
	}
}

func (r *recordingMetrics) RecordConflict(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

type sessionFixture struct {
	svc      *SessionService
	store    *memSessionStore
	audit    *recordingAudit
	notifier *recordingNotifier
	metrics  *recordingMetrics
	now      time.Time
}

func newSessionFixture(t *testing.T, cfg SessionServiceConfig) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:    newMemSessionStore(),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		metrics:  &recordingMetrics{},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	if cfg.LateActionWindow == 0 {
		cfg.LateActionWindow = 2 * time.Hour
	}
	f.svc = NewSessionService(f.store, memSlotFinder{store: f.store}, f.audit, nil, nil, cfg,
		WithSessionClock(func() time.Time { return f.now }),
		WithSessionNotifier(f.notifier),
		WithSessionMetrics(f.metrics),
	)
	return f
}

var (
	student  = &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}
	student2 = &models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent}
	student3 = &models.JWTClaims{UserID: "stu-3", Role: models.RoleStudent}
	tutor    = &models.JWTClaims{UserID: "tut-1", Role: models.RoleTutor}
	coord    = &models.JWTClaims{UserID: "crd-1", Role: models.RoleCoordinator}
)

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func (f *sessionFixture) addSlot(id string, start, end time.Time) {
	f.store.addSlot(models.AvailabilitySlot{
		ID: id, TutorID: tutor.UserID, StartTime: start, EndTime: end,
		AllowedModes: []string{string(models.ModeOnline), string(models.ModeCampus1)},
	})
}

func (f *sessionFixture) create(t *testing.T, requestType models.RequestType, capacity int, start time.Time) *models.Session {
	t.Helper()
	end := start.Add(time.Hour)
	s, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID:           tutor.UserID,
		StartTime:         &start,
		EndTime:           &end,
		Mode:              string(models.ModeOnline),
		RequestType:       string(requestType),
		RequestedCapacity: capacity,
		Topic:             "Linear algebra",
	})
	require.NoError(t, err)
	return s
}

func (f *sessionFixture) confirmed(t *testing.T, requestType models.RequestType, capacity int, start time.Time) *models.Session {
	t.Helper()
	s := f.create(t, requestType, capacity, start)
	out, err := f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "Eigenvalues"})
	require.NoError(t, err)
	return out
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	assert.Equal(t, models.SessionWaitingForTutor, s.Status)
	assert.Equal(t, 1, s.MaxCapacity)
	assert.Equal(t, 1, s.CurrentCapacity)
	assert.False(t, s.IsPublic)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, []string{models.AuditActionSessionCreate}, f.audit.actions())
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.NotificationSessionRequested, f.notifier.events[0].Type)
	assert.Equal(t, student.UserID, f.notifier.events[0].ActorID)
}

func TestCreateSessionRules(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(24 * time.Hour)
	end := start.Add(time.Hour)
	past := f.now.Add(-time.Hour)
	base := dto.CreateSessionRequest{TutorID: tutor.UserID, StartTime: &start, EndTime: &end, Mode: "ONLINE", RequestType: "ONE_ON_ONE"}

	_, err := f.svc.Create(context.Background(), tutor, base)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	group := base
	group.RequestType = "PUBLIC_GROUP"
	group.RequestedCapacity = 1
	_, err = f.svc.Create(context.Background(), student, group)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	inverted := base
	inverted.StartTime, inverted.EndTime = &end, &start
	_, err = f.svc.Create(context.Background(), student, inverted)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	stale := base
	stale.StartTime = &past
	_, err = f.svc.Create(context.Background(), student, stale)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	badMode := base
	badMode.Mode = "TELEPATHY"
	_, err = f.svc.Create(context.Background(), student, badMode)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCreateSessionFromSlot(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(24 * time.Hour)
	f.addSlot("slot-1", start, start.Add(2*time.Hour))

	s, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID: tutor.UserID, SlotID: strPtr("slot-1"), Mode: "ONLINE", RequestType: "PUBLIC_GROUP", RequestedCapacity: 5,
	})
	require.NoError(t, err)
	assert.True(t, s.StartTime.Equal(start))
	assert.True(t, s.IsPublic)
	assert.Equal(t, 5, s.MaxCapacity)
	assert.False(t, f.store.slot("slot-1").IsBooked, "slot is only claimed on confirmation")

	confirmed, err := f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "Vectors", MaxCapacity: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, confirmed.MaxCapacity)
	assert.True(t, f.store.slot("slot-1").IsBooked)
}

func TestConfirmRequiresTopicAndTutor(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "  "})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Confirm(context.Background(), student, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestConfirmOnBookedSlotIsUnavailable(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(24 * time.Hour)
	f.addSlot("slot-1", start, start.Add(time.Hour))
	s, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID: tutor.UserID, SlotID: strPtr("slot-1"), Mode: "ONLINE", RequestType: "ONE_ON_ONE",
	})
	require.NoError(t, err)

	booked := f.store.slot("slot-1")
	booked.IsBooked = true
	f.store.addSlot(booked)

	_, err = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	assert.ErrorIs(t, err, appErrors.ErrResourceUnavailable)
	stored, _ := f.store.FindByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionWaitingForTutor, stored.Status)
}

// Negotiation round trip: tutor moves the session, student accepts.
func TestNegotiateThenAccept(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{RequireNegotiationTopic: true})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))
	newStart := f.now.Add(72 * time.Hour)
	newEnd := newStart.Add(90 * time.Minute)

	_, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{Message: "later?", NewStartTime: &newStart, NewEndTime: &newEnd})
	assert.ErrorIs(t, err, appErrors.ErrValidation, "new_topic is required")

	negotiated, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{
		NewTopic: strPtr("Determinants"), Message: "Thursday suits me better", NewStartTime: &newStart, NewEndTime: &newEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaitingForStudent, negotiated.Status)
	require.NotNil(t, negotiated.Proposal)
	assert.Equal(t, models.RoleTutor, negotiated.Proposal.ProposedBy)

	_, err = f.svc.AcceptProposal(context.Background(), tutor, s.ID, dto.AcceptProposalRequest{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	accepted, err := f.svc.AcceptProposal(context.Background(), student, s.ID, dto.AcceptProposalRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, accepted.Status)
	assert.Nil(t, accepted.Proposal)
	assert.Equal(t, "Determinants", accepted.Topic)
	assert.True(t, accepted.StartTime.Equal(newStart))
	assert.Equal(t, 3, accepted.Version)
	assert.Equal(t, []string{
		models.AuditActionSessionCreate, models.AuditActionSessionNegotiate, models.AuditActionProposalAccept,
	}, f.audit.actions())
}

func TestRejectProposalCancels(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))
	_, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{Message: "campus instead", NewMode: strPtr("CAMPUS_1")})
	require.NoError(t, err)

	out, err := f.svc.RejectProposal(context.Background(), student, s.ID, dto.RejectSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out.Status)
	assert.Nil(t, out.Proposal)
	assert.Equal(t, student.UserID, *out.CancelledBy)

	_, err = f.svc.AcceptProposal(context.Background(), student, s.ID, dto.AcceptProposalRequest{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.Reject(context.Background(), tutor, s.ID, dto.RejectSessionRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	out, err := f.svc.Reject(context.Background(), tutor, s.ID, dto.RejectSessionRequest{Reason: "fully booked"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejected, out.Status)
	assert.Equal(t, "fully booked", *out.StatusReason)
}

func TestTerminalSessionsRefuseEveryAction(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))
	_, err := f.svc.Reject(context.Background(), tutor, s.ID, dto.RejectSessionRequest{Reason: "no"})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	_, err = f.svc.Cancel(context.Background(), student, s.ID, dto.CancelSessionRequest{Reason: "x"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	_, err = f.svc.OverrideStatus(context.Background(), coord, s.ID, dto.OverrideStatusRequest{Status: "CONFIRMED"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

// Late cancellation: allowed, tagged and audited separately.
func TestLateCancellationIsTagged(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(3 * time.Hour)
	f.addSlot("slot-1", start, start.Add(time.Hour))
	s, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID: tutor.UserID, SlotID: strPtr("slot-1"), Mode: "ONLINE", RequestType: "ONE_ON_ONE",
	})
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	require.NoError(t, err)

	f.now = start.Add(-30 * time.Minute)
	_, err = f.svc.Cancel(context.Background(), student, s.ID, dto.CancelSessionRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	out, err := f.svc.Cancel(context.Background(), student, s.ID, dto.CancelSessionRequest{Reason: "sick"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out.Status)
	assert.Equal(t, "LATE_CANCELLATION: sick", *out.StatusReason)
	assert.True(t, out.LateAction)
	assert.Equal(t, models.AuditActionSessionCancelLate, f.audit.last().Action)
	assert.Equal(t, 1, f.metrics.late)
	assert.False(t, f.store.slot("slot-1").IsBooked)
}

func TestCancelOutsideWindowIsNotLate(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	out, err := f.svc.Cancel(context.Background(), tutor, s.ID, dto.CancelSessionRequest{Reason: "conference"})
	require.NoError(t, err)
	assert.Equal(t, "conference", *out.StatusReason)
	assert.False(t, out.LateAction)
	assert.Equal(t, models.AuditActionSessionCancel, f.audit.last().Action)
}

func TestWithdrawPendingRequestIsRequesterOnly(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.Cancel(context.Background(), tutor, s.ID, dto.CancelSessionRequest{Reason: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	out, err := f.svc.Cancel(context.Background(), student, s.ID, dto.CancelSessionRequest{Reason: "found another tutor"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out.Status)
	assert.Contains(t, f.metrics.transitions, "cancel_request:CANCELLED")
}

// Public group: join up to capacity, participants leave rather than cancel,
// the last leaver cancels the session.
func TestPublicGroupJoinAndLeave(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestPublicGroup, 2, f.now.Add(48*time.Hour))
	require.True(t, s.IsPublic)

	joined, err := f.svc.Join(context.Background(), student2, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, joined.CurrentCapacity)

	_, err = f.svc.Join(context.Background(), student2, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.Join(context.Background(), student3, s.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "full")

	_, err = f.svc.Cancel(context.Background(), student2, s.ID, dto.CancelSessionRequest{Reason: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	left, err := f.svc.Leave(context.Background(), student2, s.ID, dto.LeaveSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, left.CurrentCapacity)
	assert.Equal(t, models.SessionConfirmed, left.Status)

	f.now = s.StartTime.Add(-time.Hour)
	last, err := f.svc.Leave(context.Background(), student, s.ID, dto.LeaveSessionRequest{Reason: "exam"})
	require.NoError(t, err)
	assert.Equal(t, 0, last.CurrentCapacity)
	assert.Equal(t, models.SessionCancelled, last.Status)
	assert.Equal(t, models.AuditActionSessionLeaveLate, f.audit.last().Action)

	stored, _ := f.store.FindByID(context.Background(), s.ID)
	for _, p := range stored.Participants {
		if p.StudentID == student.UserID {
			assert.Equal(t, models.ParticipantCancelled, p.Status)
			assert.True(t, p.Late)
		}
	}
}

func TestJoinPrivateSessionForbidden(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestPrivateGroup, 3, f.now.Add(48*time.Hour))

	_, err := f.svc.Join(context.Background(), student2, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRescheduleAcceptedByTutorMovesSlot(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(24 * time.Hour)
	f.addSlot("slot-1", start, start.Add(time.Hour))
	f.addSlot("slot-2", start.Add(48*time.Hour), start.Add(50*time.Hour))
	s, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID: tutor.UserID, SlotID: strPtr("slot-1"), Mode: "ONLINE", RequestType: "ONE_ON_ONE",
	})
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), tutor, s.ID, dto.RescheduleSessionRequest{SlotID: "slot-2", Message: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	pending, err := f.svc.Reschedule(context.Background(), student, s.ID, dto.RescheduleSessionRequest{SlotID: "slot-2", Message: "clash with lab"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, pending.Status)
	require.NotNil(t, pending.Proposal)
	assert.Equal(t, models.RoleStudent, pending.Proposal.ProposedBy)
	assert.True(t, pending.StartTime.Equal(start), "time only moves once the tutor accepts")

	_, err = f.svc.Reschedule(context.Background(), student, s.ID, dto.RescheduleSessionRequest{SlotID: "slot-2", Message: "again"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.AcceptProposal(context.Background(), student, s.ID, dto.AcceptProposalRequest{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	moved, err := f.svc.AcceptProposal(context.Background(), tutor, s.ID, dto.AcceptProposalRequest{})
	require.NoError(t, err)
	assert.True(t, moved.StartTime.Equal(start.Add(48*time.Hour)))
	assert.Equal(t, "slot-2", *moved.SlotID)
	assert.False(t, f.store.slot("slot-1").IsBooked)
	assert.True(t, f.store.slot("slot-2").IsBooked)
}

func TestLateRescheduleFlagged(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(time.Hour))
	f.addSlot("slot-9", f.now.Add(24*time.Hour), f.now.Add(25*time.Hour))

	out, err := f.svc.Reschedule(context.Background(), student, s.ID, dto.RescheduleSessionRequest{SlotID: "slot-9", Message: "overslept"})
	require.NoError(t, err)
	assert.True(t, out.LateAction)
	assert.Equal(t, models.AuditActionSessionRescheduleLate, f.audit.last().Action)
	assert.True(t, strings.HasPrefix(*f.audit.last().Reason, LateRescheduleTag))
}

func TestCompleteRequiresStartedSession(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.Complete(context.Background(), tutor, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.Complete(context.Background(), student, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	f.now = s.StartTime
	out, err := f.svc.Complete(context.Background(), coord, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, out.Status)
}

func TestGetCompletesElapsedSessionLazily(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(time.Hour))

	f.now = f.now.Add(2 * time.Hour)
	out, err := f.svc.Get(context.Background(), student, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, out.Status)
	assert.Nil(t, f.audit.last().UserID, "system completion has no actor")
	assert.Equal(t, "system", f.audit.last().IPAddress)
}

func TestGetHidesPrivateSessionFromOutsiders(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.Get(context.Background(), student2, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Get(context.Background(), coord, s.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), coord, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestOverrideStatus(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.OverrideStatus(context.Background(), tutor, s.ID, dto.OverrideStatusRequest{Status: "CONFIRMED"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	out, err := f.svc.OverrideStatus(context.Background(), coord, s.ID, dto.OverrideStatusRequest{Status: "CONFIRMED", Reason: "phoned in"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, out.Status)
	assert.Equal(t, models.AuditActionSessionOverride, f.audit.last().Action)
	assert.Equal(t, coord.UserID, *f.audit.last().UserID)
}

func TestUpdateTopicAndLocation(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.UpdateTopic(context.Background(), student, s.ID, dto.UpdateTopicRequest{Topic: "Other"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	out, err := f.svc.UpdateTopic(context.Background(), tutor, s.ID, dto.UpdateTopicRequest{Topic: "Matrices"})
	require.NoError(t, err)
	assert.Equal(t, "Matrices", out.Topic)

	out, err = f.svc.UpdateLocation(context.Background(), tutor, s.ID, dto.UpdateLocationRequest{Location: "Room 4", Mode: strPtr("CAMPUS_2")})
	require.NoError(t, err)
	assert.Equal(t, "Room 4", *out.Location)
	assert.Equal(t, models.ModeCampus2, out.Mode)
}

// Confirm and reject racing on the same request: exactly one wins.
func TestConcurrentDecisionsOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newSessionFixture(t, SessionServiceConfig{})
		s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.svc.Reject(context.Background(), tutor, s.ID, dto.RejectSessionRequest{Reason: "no"})
		}()
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				failures++
				assert.ErrorIs(t, err, appErrors.ErrConflict)
			}
		}
		assert.Equal(t, 1, failures)
		stored, _ := f.store.FindByID(context.Background(), s.ID)
		assert.Equal(t, 2, stored.Version)
	}
}

// staleStore serves a frozen copy so the caller acts on an outdated view.
type staleStore struct {
	*memSessionStore
	frozen models.Session
}

func (s staleStore) FindByID(context.Context, string) (*models.Session, error) {
	out := cloneSession(s.frozen)
	return &out, nil
}

func TestStaleWriteIsConflict(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))
	frozen := cloneSession(*s)
	_, err := f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "x"})
	require.NoError(t, err)

	stale := NewSessionService(staleStore{memSessionStore: f.store, frozen: frozen}, nil, f.audit, nil, nil, SessionServiceConfig{},
		WithSessionClock(func() time.Time { return f.now }), WithSessionMetrics(f.metrics))
	_, err = stale.Reject(context.Background(), tutor, s.ID, dto.RejectSessionRequest{Reason: "no"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, 1, f.metrics.conflicts)
}

func TestSweepCompletesDueSessions(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	due := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(time.Hour))
	later := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(72*time.Hour))

	f.now = f.now.Add(3 * time.Hour)
	n, err := f.svc.SweepCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.store.FindByID(context.Background(), due.ID)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	stored, _ = f.store.FindByID(context.Background(), later.ID)
	assert.Equal(t, models.SessionConfirmed, stored.Status)
}

func TestExpireProposals(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{ProposalTTL: 24 * time.Hour})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(96*time.Hour))
	_, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{Message: "public?", NewMode: strPtr("CAMPUS_1")})
	require.NoError(t, err)

	n, err := f.svc.ExpireProposals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(25 * time.Hour)
	n, err = f.svc.ExpireProposals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, _ := f.store.FindByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionCancelled, stored.Status)
	assert.Equal(t, proposalExpired, *stored.StatusReason)
}

func TestExpireProposalsDisabledByDefault(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	n, err := f.svc.ExpireProposals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type mapCache struct {
	data        map[string]interface{}
	invalidated int
}

func (m *mapCache) Get(_ context.Context, key string, dest interface{}) bool {
	v, ok := m.data[key]
	if !ok {
		return false
	}
	*dest.(*publicPage) = v.(publicPage)
	return true
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) {
	m.data[key] = value
}

func (m *mapCache) Invalidate(context.Context, string) {
	m.invalidated++
	m.data = map[string]interface{}{}
}

func TestListPublicUsesCache(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	cache := &mapCache{data: map[string]interface{}{}}
	f.svc.cache = cache

	f.confirmed(t, models.RequestPublicGroup, 4, f.now.Add(48*time.Hour))
	assert.Positive(t, cache.invalidated)

	items, page, err := f.svc.ListPublic(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)
	assert.Contains(t, cache.data, "sessions:public:1:10")

	items, _, err = f.svc.ListPublic(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSweepRunsBothPasses(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{ProposalTTL: time.Hour})
	done := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(time.Hour))
	pending := f.create(t, models.RequestOneOnOne, 0, f.now.Add(96*time.Hour))
	_, err := f.svc.Negotiate(context.Background(), tutor, pending.ID, dto.NegotiateSessionRequest{Message: "campus?", NewMode: strPtr("CAMPUS_2")})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	require.NoError(t, f.svc.Sweep(context.Background()))

	stored, _ := f.store.FindByID(context.Background(), done.ID)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	stored, _ = f.store.FindByID(context.Background(), pending.ID)
	assert.Equal(t, models.SessionCancelled, stored.Status)
}

// A tutor cannot hold two confirmed sessions at the same time.
func TestConfirmRefusesTutorDoubleBooking(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	start := f.now.Add(48 * time.Hour)
	f.confirmed(t, models.RequestOneOnOne, 0, start)

	overlapping := f.create(t, models.RequestOneOnOne, 0, start.Add(30*time.Minute))
	_, err := f.svc.Confirm(context.Background(), tutor, overlapping.ID, dto.ConfirmSessionRequest{Topic: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "overlaps with another confirmed session")
	stored, _ := f.store.FindByID(context.Background(), overlapping.ID)
	assert.Equal(t, models.SessionWaitingForTutor, stored.Status)
	assert.Equal(t, 1, f.metrics.conflicts)

	adjacent := f.create(t, models.RequestOneOnOne, 0, start.Add(time.Hour))
	_, err = f.svc.Confirm(context.Background(), tutor, adjacent.ID, dto.ConfirmSessionRequest{Topic: "x"})
	assert.NoError(t, err, "back-to-back sessions do not overlap")
}

func TestNegotiateRefusesOverlappingTime(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	busy := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(72*time.Hour))

	clashStart := busy.StartTime.Add(15 * time.Minute)
	clashEnd := clashStart.Add(time.Hour)
	_, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{
		Message: "earlier?", NewStartTime: &clashStart, NewEndTime: &clashEnd,
	})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	out, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{Message: "campus?", NewMode: strPtr("CAMPUS_1")})
	require.NoError(t, err, "proposals that keep the time skip the schedule check")
	assert.Equal(t, models.SessionWaitingForStudent, out.Status)
}

func TestAcceptProposalRefusesOverlap(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.create(t, models.RequestOneOnOne, 0, f.now.Add(72*time.Hour))
	newStart := f.now.Add(24 * time.Hour)
	newEnd := newStart.Add(time.Hour)
	_, err := f.svc.Negotiate(context.Background(), tutor, s.ID, dto.NegotiateSessionRequest{
		Message: "tomorrow?", NewStartTime: &newStart, NewEndTime: &newEnd,
	})
	require.NoError(t, err)

	// Another request takes the proposed window while the student is deciding.
	f.confirmed(t, models.RequestOneOnOne, 0, newStart.Add(30*time.Minute))

	_, err = f.svc.AcceptProposal(context.Background(), student, s.ID, dto.AcceptProposalRequest{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	stored, _ := f.store.FindByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionWaitingForStudent, stored.Status)
	assert.NotNil(t, stored.Proposal)
}

// A requester who gave up their seat in a group session no longer speaks for it.
func TestRequesterWhoLeftGroupLosesRights(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestPublicGroup, 3, f.now.Add(48*time.Hour))
	_, err := f.svc.Join(context.Background(), student2, s.ID)
	require.NoError(t, err)
	_, err = f.svc.Leave(context.Background(), student, s.ID, dto.LeaveSessionRequest{Reason: "clash"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), student, s.ID, dto.CancelSessionRequest{Reason: "changed my mind"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Reschedule(context.Background(), student, s.ID, dto.RescheduleSessionRequest{SlotID: "slot-1", Message: "later"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	stored, _ := f.store.FindByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionConfirmed, stored.Status)
	assert.Equal(t, 1, stored.CurrentCapacity)

	out, err := f.svc.Cancel(context.Background(), tutor, s.ID, dto.CancelSessionRequest{Reason: "ill"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, out.Status)
}

func TestLateLeaveKeepsSessionForRemainingParticipants(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestPublicGroup, 3, f.now.Add(48*time.Hour))
	_, err := f.svc.Join(context.Background(), student2, s.ID)
	require.NoError(t, err)

	f.now = s.StartTime.Add(-time.Hour)
	out, err := f.svc.Leave(context.Background(), student2, s.ID, dto.LeaveSessionRequest{Reason: "bus strike"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, out.Status)
	assert.Equal(t, 1, out.CurrentCapacity)
	assert.True(t, out.LateAction)
	assert.Equal(t, models.AuditActionSessionLeaveLate, f.audit.last().Action)
	assert.Equal(t, "LATE_LEAVE: bus strike", *f.audit.last().Reason)

	stored, _ := f.store.FindByID(context.Background(), s.ID)
	var seen int
	for _, p := range stored.Participants {
		switch p.StudentID {
		case student2.UserID:
			seen++
			assert.Equal(t, models.ParticipantCancelled, p.Status)
			assert.True(t, p.Late)
			assert.NotNil(t, p.LeftAt)
		case student.UserID:
			seen++
			assert.Equal(t, models.ParticipantJoined, p.Status)
		}
	}
	assert.Equal(t, 2, seen)
}

func TestOverrideStatusGuards(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	pending := f.create(t, models.RequestOneOnOne, 0, f.now.Add(48*time.Hour))

	_, err := f.svc.OverrideStatus(context.Background(), coord, pending.ID, dto.OverrideStatusRequest{Status: "COMPLETED"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	stored, _ := f.store.FindByID(context.Background(), pending.ID)
	assert.Equal(t, models.SessionWaitingForTutor, stored.Status)

	start := f.now.Add(96 * time.Hour)
	end := start.Add(time.Hour)
	untitled, err := f.svc.Create(context.Background(), student, dto.CreateSessionRequest{
		TutorID: tutor.UserID, StartTime: &start, EndTime: &end, Mode: "ONLINE", RequestType: "ONE_ON_ONE",
	})
	require.NoError(t, err)
	_, err = f.svc.OverrideStatus(context.Background(), coord, untitled.ID, dto.OverrideStatusRequest{Status: "CONFIRMED"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	confirmed := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(120*time.Hour))
	out, err := f.svc.OverrideStatus(context.Background(), coord, confirmed.ID, dto.OverrideStatusRequest{Status: "COMPLETED", Reason: "held early"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, out.Status)
}

func TestPrivateGroupInvitations(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	bo := &models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent, Email: "bo@example.edu"}
	cy := &models.JWTClaims{UserID: "stu-3", Role: models.RoleStudent, Email: "cy@example.edu"}
	zed := &models.JWTClaims{UserID: "stu-4", Role: models.RoleStudent, Email: "zed@example.edu"}
	start := f.now.Add(48 * time.Hour)
	end := start.Add(time.Hour)
	req := dto.CreateSessionRequest{
		TutorID: tutor.UserID, StartTime: &start, EndTime: &end, Mode: "ONLINE", RequestType: "PRIVATE_GROUP",
		RequestedCapacity: 2, Topic: "Graphs", InvitedEmails: []string{"Bo@example.edu", "cy@example.edu"},
	}

	_, err := f.svc.Create(context.Background(), student, req)
	assert.ErrorIs(t, err, appErrors.ErrValidation, "two invitees need three seats")

	oneOnOne := req
	oneOnOne.RequestType = "ONE_ON_ONE"
	_, err = f.svc.Create(context.Background(), student, oneOnOne)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	req.RequestedCapacity = 3
	req.InvitedEmails = append(req.InvitedEmails, "BO@example.edu")
	s, err := f.svc.Create(context.Background(), student, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"bo@example.edu", "cy@example.edu"}, []string(s.InvitedEmails))

	_, err = f.svc.Get(context.Background(), bo, s.ID)
	assert.NoError(t, err, "invitees can see the session")
	_, err = f.svc.RespondInvite(context.Background(), bo, s.ID, "accept")
	assert.ErrorIs(t, err, appErrors.ErrConflict, "invitations open once the tutor confirms")

	_, err = f.svc.Confirm(context.Background(), tutor, s.ID, dto.ConfirmSessionRequest{Topic: "Graphs"})
	require.NoError(t, err)

	_, err = f.svc.RespondInvite(context.Background(), zed, s.ID, "accept")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.RespondInvite(context.Background(), bo, s.ID, "maybe")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	joined, err := f.svc.RespondInvite(context.Background(), bo, s.ID, "ACCEPT")
	require.NoError(t, err)
	assert.Equal(t, 2, joined.CurrentCapacity)
	_, ok := joined.Participant(bo.UserID)
	assert.True(t, ok)
	assert.Equal(t, models.AuditActionInviteAccept, f.audit.last().Action)

	_, err = f.svc.RespondInvite(context.Background(), bo, s.ID, "accept")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.RespondInvite(context.Background(), bo, s.ID, "decline")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	f.store.mutate(s.ID, func(s *models.Session) { s.MaxCapacity = 2 })
	_, err = f.svc.RespondInvite(context.Background(), cy, s.ID, "accept")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")

	declined, err := f.svc.RespondInvite(context.Background(), cy, s.ID, "decline")
	require.NoError(t, err)
	assert.Equal(t, []string{"bo@example.edu"}, []string(declined.InvitedEmails))
	assert.Equal(t, models.AuditActionInviteDecline, f.audit.last().Action)

	_, err = f.svc.RespondInvite(context.Background(), cy, s.ID, "accept")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestMarkAttendance(t *testing.T) {
	f := newSessionFixture(t, SessionServiceConfig{})
	s := f.confirmed(t, models.RequestOneOnOne, 0, f.now.Add(time.Hour))

	_, err := f.svc.MarkAttendance(context.Background(), student, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation, "not started yet")

	f.now = s.StartTime.Add(10 * time.Minute)
	_, err = f.svc.MarkAttendance(context.Background(), tutor, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.MarkAttendance(context.Background(), student2, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	member, err := f.svc.MarkAttendance(context.Background(), student, s.ID)
	require.NoError(t, err)
	require.NotNil(t, member.AttendedAt)
	assert.True(t, member.AttendedAt.Equal(f.now))
	assert.Equal(t, models.AuditActionAttendanceMark, f.audit.last().Action)

	_, err = f.svc.MarkAttendance(context.Background(), student, s.ID)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	stored, _ := f.store.FindByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionCompleted, stored.Status)
}
