package relay

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewAuditRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAuditRepositorySave(t *testing.T) {
	repo, mock := newMockRepository(t)
	createdAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_audit")).
		WithArgs("sess-1", "hostA", "remove", "userB", createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Save(context.Background(), AuditEntry{
		Session:     "sess-1",
		Participant: "hostA",
		Action:      AuditRemove,
		Target:      "userB",
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryRecent(t *testing.T) {
	repo, mock := newMockRepository(t)
	createdAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"session_id", "participant_id", "action", "target_id", "created_at"}).
		AddRow("sess-1", "hostA", "mute", "userB", createdAt.Add(time.Minute)).
		AddRow("sess-1", "userB", "join", "", createdAt)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT session_id, participant_id, action, target_id, created_at FROM session_audit")).
		WithArgs("sess-1", 10).
		WillReturnRows(rows)

	entries, err := repo.Recent(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, AuditMute, entries[0].Action)
	assert.EqualValues(t, "userB", entries[0].Target)
	assert.EqualValues(t, "userB", entries[1].Participant)
	assert.True(t, createdAt.Equal(entries[1].CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryEnsureSchema(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS session_audit")).
		WillReturnError(errors.New("permission denied"))

	assert.Error(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogWritesInBackground(t *testing.T) {
	repo, mock := newMockRepository(t)
	audit := NewAuditLog(repo)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_audit")).
		WithArgs("sess-1", "userB", "join", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		audit.Run(ctx)
		close(done)
	}()

	audit.Record(AuditEntry{Session: "sess-1", Participant: "userB", Action: AuditJoin})

	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestAuditLogDropsWhenFull(t *testing.T) {
	audit := NewAuditLog(nil)

	for i := 0; i < auditQueueSize+10; i++ {
		audit.Record(AuditEntry{Session: "sess-1", Participant: "userB", Action: AuditJoin})
	}

	assert.Len(t, audit.entries, auditQueueSize)
	entry := <-audit.entries
	assert.False(t, entry.CreatedAt.IsZero())
}
