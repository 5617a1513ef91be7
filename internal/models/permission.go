package models

// Operation names an action a caller can attempt through the API.
type Operation string

const (
	OpSessionCreate     Operation = "session:create"
	OpSessionRead       Operation = "session:read"
	OpSessionConfirm    Operation = "session:confirm"
	OpSessionReject     Operation = "session:reject"
	OpSessionNegotiate  Operation = "session:negotiate"
	OpProposalRespond   Operation = "session:proposal:respond"
	OpSessionCancel     Operation = "session:cancel"
	OpSessionReschedule Operation = "session:reschedule"
	OpSessionJoin       Operation = "session:join"
	OpSessionLeave      Operation = "session:leave"
	OpSessionComplete   Operation = "session:complete"
	OpSessionOverride   Operation = "session:override"
	OpSessionEdit       Operation = "session:edit"
	OpSessionInvite     Operation = "session:invite:respond"
	OpAttendanceMark    Operation = "attendance:mark"
	OpAvailabilityWrite Operation = "availability:write"
	OpAvailabilityRead  Operation = "availability:read"
	OpFeedbackWrite     Operation = "feedback:write"
	OpFeedbackRead      Operation = "feedback:read"
	OpAuditRead         Operation = "audit:read"
	OpReportExport      Operation = "report:export"
	OpNotificationRead  Operation = "notification:read"
)

func opSet(ops ...Operation) map[Operation]struct{} {
	set := make(map[Operation]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// permissions is the complete (role, operation) grant table. Anything absent is denied.
// Ownership checks (is this my session?) happen in the services.
var permissions = map[UserRole]map[Operation]struct{}{
	RoleStudent: opSet(
		OpSessionCreate, OpSessionRead, OpProposalRespond, OpSessionCancel,
		OpSessionReschedule, OpSessionJoin, OpSessionLeave, OpSessionInvite, OpAttendanceMark,
		OpAvailabilityRead, OpFeedbackWrite, OpFeedbackRead, OpNotificationRead,
	),
	RoleTutor: opSet(
		OpSessionRead, OpSessionConfirm, OpSessionReject, OpSessionNegotiate,
		OpProposalRespond, OpSessionCancel, OpSessionComplete, OpSessionEdit,
		OpAvailabilityWrite, OpAvailabilityRead, OpFeedbackRead, OpNotificationRead,
	),
	RoleCoordinator: opSet(
		OpSessionRead, OpSessionComplete, OpSessionOverride, OpSessionEdit,
		OpAvailabilityRead, OpFeedbackRead, OpAuditRead, OpReportExport, OpNotificationRead,
	),
	RoleAdmin: opSet(
		OpSessionRead, OpSessionComplete, OpSessionOverride, OpSessionEdit,
		OpAvailabilityRead, OpFeedbackRead, OpAuditRead,
		OpReportExport, OpNotificationRead,
	),
}

// Can reports whether role is granted op.
func Can(role UserRole, op Operation) bool {
	ops, ok := permissions[role]
	if !ok {
		return false
	}
	_, ok = ops[op]
	return ok
}
