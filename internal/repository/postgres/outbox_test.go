package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository_GetPendingEvents(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewOutboxRepository(base)
	older, newer := time.Now().Add(-time.Minute), time.Now()

	cols := []string{"id", "event_type", "payload", "status", "error_message", "retry_count",
		"created_at", "processed_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("pending", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), "consult.submitted", []byte(`{"b":2}`), "pending", nil, 0, newer, nil, newer).
			AddRow(uuid.NewString(), "consult.submitted", []byte(`{"a":1}`), "pending", nil, 1, older, nil, older))

	events, err := repo.GetPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Payload))
	assert.Equal(t, 1, events[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewOutboxRepository(base)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("SET retry_count = retry_count + 1")).
		WithArgs("redis down", 5, "failed", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), id, "redis down", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_DeleteProcessedBefore(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewOutboxRepository(base)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_events")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteProcessedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
