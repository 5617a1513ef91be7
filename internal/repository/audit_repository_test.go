package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
)

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
	log := &models.AuditLog{Action: models.AuditActionSessionCancelLate, Resource: "session"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	require.NotEmpty(t, log.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListByActions(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE action IN ($1,$2,$3)")).
		WithArgs(models.AuditActionSessionCancelLate, models.AuditActionSessionRescheduleLate, models.AuditActionSessionLeaveLate).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "reason", "ip_address", "user_agent", "created_at"}).
			AddRow("log-1", "stu-1", models.AuditActionSessionCancelLate, "session", "sess-1", nil, nil, "LATE_CANCELLATION: sick", "127.0.0.1", "test", now))

	logs, total, err := repo.List(context.Background(), models.AuditFilter{Actions: models.LateAuditActions})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "sess-1", *logs[0].ResourceID)
	require.NoError(t, mock.ExpectationsWereMet())
}
