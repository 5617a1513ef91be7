package dto

import "time"

// AuditQuery filters the audit trail.
type AuditQuery struct {
	Action    string
	UserID    string
	SessionID string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// LateActionReportQuery selects the window and encoding of the late-action report.
type LateActionReportQuery struct {
	Format string
	From   *time.Time
	To     *time.Time
}

// ReportFile is a rendered report ready for download.
type ReportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
