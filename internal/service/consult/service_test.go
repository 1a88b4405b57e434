package consult

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/econsult/internal/clinical"
	"github.com/jwalitptl/econsult/internal/model"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

type mockConsultRepo struct {
	mock.Mock
}

func (m *mockConsultRepo) Create(ctx context.Context, consult *model.Consult, events ...*model.OutboxEvent) error {
	args := m.Called(ctx, consult, events)
	return args.Error(0)
}

func (m *mockConsultRepo) GetByOwner(ctx context.Context, ownerID, id uuid.UUID) (*model.Consult, error) {
	args := m.Called(ctx, ownerID, id)
	c, _ := args.Get(0).(*model.Consult)
	return c, args.Error(1)
}

func (m *mockConsultRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Consult, error) {
	args := m.Called(ctx, ownerID)
	c, _ := args.Get(0).([]*model.Consult)
	return c, args.Error(1)
}

func ptr[T any](v T) *T {
	return &v
}

func completeDraft() *model.Draft {
	dob := time.Date(2010, time.June, 15, 0, 0, 0, 0, time.UTC)
	return &model.Draft{
		Patient: model.PatientInfo{FullName: "Jane Q Doe", DateOfBirth: &dob, Gender: "female"},
		Measurements: model.Measurements{
			HeightCm:                ptr(150.0),
			WeightKg:                ptr(45.0),
			WeightPercentileCurrent: ptr(80.0),
			WeightPercentile12Mo:    ptr(55.0),
		},
		Clinical: model.ClinicalDetails{Category: model.ConditionObesity, Question: "Rapid weight gain?"},
		Referrer: model.Referrer{ClinicianName: "Dr. Smith", Email: "smith@clinic.example", ResponseMethod: model.ResponseEmail},
		Attestation: model.Attestation{
			InfoAccurate: true, GuardianConsent: true, NotEmergency: true,
			AdminName: "Pat", Signature: "Pat",
		},
	}
}

func newTestService(repo *mockConsultRepo) *Service {
	s := NewService(repo, metrics.NewNop())
	s.now = func() time.Time { return time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestInitials(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"John Doe", "JD"},
		{"Mary Jane Smith Walker", "MJSW"},
		{"Cher", "C"},
		{"  ana   maria  ", "AM"},
		{"One Two Three Four Five", "OTTF"},
		{"élodie durand", "ÉD"},
		{"", ""},
		{"(Jane) Doe", "JD"},
		{"\"Jane\" doe", "JD"},
		{"\xff\xfe Doe", "D"},
		{"- Jane 42 Doe", "JD"},
		{"... !!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Initials(tt.name)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxInitials)
			assert.Equal(t, strings.ToUpper(got), got)
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	repo := &mockConsultRepo{}
	svc := newTestService(repo)
	owner := model.Owner{ID: uuid.New(), Email: "office@clinic.example"}
	created := time.Date(2024, time.January, 1, 12, 0, 1, 0, time.UTC)

	var stored *model.Consult
	var events []*model.OutboxEvent
	repo.On("Create", mock.Anything, mock.AnythingOfType("*model.Consult"), mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*model.Consult)
			stored.CreatedAt = created
			events = args.Get(2).([]*model.OutboxEvent)
		}).
		Return(nil)

	draft := completeDraft()
	before := *draft
	receipt, err := svc.Submit(context.Background(), owner, draft)
	require.NoError(t, err)

	assert.Equal(t, "JQD", receipt.Consult.PatientInitials)
	assert.Equal(t, 13, receipt.Consult.PatientAge)
	assert.Equal(t, model.ConsultStatusSubmitted, receipt.Consult.Status)
	assert.Equal(t, owner.ID, receipt.Consult.OwnerID)
	assert.Equal(t, created, receipt.Consult.CreatedAt)
	require.NotNil(t, receipt.BMI)
	assert.Equal(t, 20.0, *receipt.BMI)
	assert.Equal(t, []string{clinical.FlagWeightJump}, receipt.Flags)
	assert.Equal(t, before, *draft)

	require.Len(t, events, 1)
	assert.Equal(t, model.EventConsultSubmitted, events[0].EventType)
	var payload model.ConsultSubmittedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, stored.ID, payload.ConsultID)
	assert.Equal(t, "office@clinic.example", payload.OwnerEmail)
	assert.Equal(t, "JQD", payload.PatientInitials)
	assert.NotContains(t, string(events[0].Payload), "Jane")

	repo.AssertExpectations(t)
}

func TestSubmit_StoreFailureIsRetryable(t *testing.T) {
	repo := &mockConsultRepo{}
	svc := newTestService(repo)
	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	_, err := svc.Submit(context.Background(), model.Owner{ID: uuid.New()}, completeDraft())

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnavailable, appErr.Code)
	assert.True(t, appErr.Retryable())
}

func TestSubmit_PanicIsRecovered(t *testing.T) {
	repo := &mockConsultRepo{}
	svc := newTestService(repo)
	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("driver bug")
	})

	receipt, err := svc.Submit(context.Background(), model.Owner{ID: uuid.New()}, completeDraft())

	assert.Nil(t, receipt)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnavailable, appErr.Code)
}

func TestSubmit_RejectsIncompleteAttestation(t *testing.T) {
	repo := &mockConsultRepo{}
	svc := newTestService(repo)
	draft := completeDraft()
	draft.Attestation.NotEmergency = false

	_, err := svc.Submit(context.Background(), model.Owner{ID: uuid.New()}, draft)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnprocessable, appErr.Code)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}
