package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository"
)

func setupMockDB(t *testing.T) (BaseRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewBaseRepository(sqlx.NewDb(mockDB, "postgres")), mock
}

func testConsult() *model.Consult {
	return &model.Consult{
		OwnerID:           uuid.New(),
		PatientInitials:   "JD",
		PatientAge:        13,
		ConditionCategory: model.ConditionObesity,
		Status:            model.ConsultStatusSubmitted,
		ClinicalQuestion:  "Rapid weight gain?",
	}
}

func TestConsultRepository_Create_WithEvent(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)
	consult := testConsult()
	event, err := model.NewOutboxEvent(model.EventConsultSubmitted, map[string]string{"k": "v"})
	require.NoError(t, err)
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consults")).
		WithArgs(sqlmock.AnyArg(), consult.OwnerID, "JD", 13, model.ConditionObesity,
			model.ConsultStatusSubmitted, "Rapid weight gain?").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(event.ID, model.EventConsultSubmitted, sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), consult, event))
	assert.NotEqual(t, uuid.Nil, consult.ID)
	assert.Equal(t, created, consult.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultRepository_Create_KeepsCallerID(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)
	consult := testConsult()
	id := uuid.New()
	consult.ID = id

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consults")).
		WithArgs(id, consult.OwnerID, "JD", 13, model.ConditionObesity,
			model.ConsultStatusSubmitted, "Rapid weight gain?").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), consult))
	assert.Equal(t, id, consult.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultRepository_Create_RollsBackOnEventFailure(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)
	event, err := model.NewOutboxEvent(model.EventConsultSubmitted, map[string]string{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consults")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = repo.Create(context.Background(), testConsult(), event)
	assert.ErrorContains(t, err, "failed to create outbox event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultRepository_GetByOwner(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)
	owner, id := uuid.New(), uuid.New()
	created := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM consults WHERE id = $1 AND owner_id = $2")).
		WithArgs(id, owner).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "patient_initials", "patient_age", "condition_category",
			"status", "created_at", "clinical_question",
		}).AddRow(id.String(), owner.String(), "MJSW", 9, "growth", "under_review", created, "Short stature"))

	got, err := repo.GetByOwner(context.Background(), owner, id)
	require.NoError(t, err)
	assert.Equal(t, "MJSW", got.PatientInitials)
	assert.Equal(t, model.ConsultStatusUnderReview, got.Status)
	assert.Equal(t, model.ConditionGrowth, got.ConditionCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultRepository_GetByOwner_NotFound(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)

	mock.ExpectQuery(regexp.QuoteMeta("FROM consults WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByOwner(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsultRepository_ListByOwner(t *testing.T) {
	base, mock := setupMockDB(t)
	repo := NewConsultRepository(base)
	owner := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "patient_initials", "patient_age", "condition_category",
		"status", "created_at", "clinical_question",
	}).
		AddRow(uuid.NewString(), owner.String(), "AB", 10, "thyroid", "completed", time.Now(), "q1").
		AddRow(uuid.NewString(), owner.String(), "CD", 11, "puberty", "submitted", time.Now().Add(-time.Hour), "q2")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 ORDER BY created_at DESC")).
		WithArgs(owner).
		WillReturnRows(rows)

	got, err := repo.ListByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AB", got[0].PatientInitials)
	assert.NoError(t, mock.ExpectationsWereMet())
}
