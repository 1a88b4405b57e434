package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flow "github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository/memory"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

type stubSubmitter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSubmitter) Submit(_ context.Context, owner model.Owner, draft *model.Draft) (*model.SubmissionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &model.SubmissionReceipt{Consult: &model.Consult{
		ID:                uuid.New(),
		OwnerID:           owner.ID,
		PatientInitials:   "JD",
		PatientAge:        13,
		ConditionCategory: draft.Clinical.Category,
		Status:            model.ConsultStatusSubmitted,
	}}, nil
}

func newTestService(sub flow.Submitter) *Service {
	store := memory.NewDraftStore(time.Hour, time.Hour, nil)
	svc := NewService(store, sub, metrics.NewNop(), Config{SubmitTimeout: time.Second})
	svc.now = func() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func updates(kv ...string) []FieldUpdate {
	out := make([]FieldUpdate, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, FieldUpdate{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

func appCode(t *testing.T, err error) apperrors.ErrorCode {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.Code
}

func driveToReview(t *testing.T, svc *Service, owner model.Owner, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	steps := [][]FieldUpdate{
		updates("patient.full_name", "Jane Doe", "patient.date_of_birth", "2010-06-15", "patient.gender", "female"),
		updates("measurements.height_cm", "150", "measurements.weight_kg", "45",
			"measurements.weight_percentile_current", "80", "measurements.weight_percentile_12mo", "55"),
		updates("clinical.condition_category", "obesity"),
		updates("clinical.clinical_question", "Weight gain?"),
		updates("referrer.clinician_name", "Dr. Smith", "referrer.email", "smith@clinic.example",
			"referrer.response_method", "fax", "attestation.info_accurate", "true",
			"attestation.guardian_consent", "true", "attestation.not_emergency", "true",
			"attestation.admin_name", "Pat", "attestation.signature", "Pat"),
	}
	for _, u := range steps {
		_, err := svc.UpdateFields(ctx, owner, id, u)
		require.NoError(t, err)
		nav, err := svc.Next(ctx, owner, id)
		require.NoError(t, err)
		require.True(t, nav.Moved, "blocked at %s: %v", nav.From, nav.Missing)
	}
}

func TestService_StartAndGet(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}

	view, err := svc.Start(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, flow.StepPatientInfo, view.Step)
	assert.Equal(t, "patient_info", view.StepName)
	assert.Len(t, view.Missing, 3)

	got, err := svc.Get(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
}

func TestService_OtherOwnerSeesNotFound(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	view, err := svc.Start(context.Background(), model.Owner{ID: uuid.New()})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), model.Owner{ID: uuid.New()}, view.ID)
	assert.Equal(t, apperrors.ErrNotFound, appCode(t, err))
}

func TestService_UpdateFieldsReportsRejections(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	got, err := svc.UpdateFields(context.Background(), owner, view.ID, updates(
		"patient.full_name", "Jane Doe",
		"patient.date_of_birth", "June 2010",
		"patient.nickname", "JJ",
	))

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrUnprocessable, appErr.Code)
	require.Len(t, appErr.Fields, 2)
	assert.Equal(t, "patient.date_of_birth", appErr.Fields[0].Field)
	assert.Equal(t, "patient.nickname", appErr.Fields[1].Field)
	assert.Equal(t, "Jane Doe", got.Draft.Patient.FullName)
}

func TestService_NextBlockedReturnsMissing(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	nav, err := svc.Next(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.False(t, nav.Moved)
	assert.Len(t, nav.Missing, 3)
	assert.Equal(t, flow.StepPatientInfo, nav.View.Step)
}

func TestService_ValidateStep(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	v, err := svc.ValidateStep(context.Background(), owner, view.ID, flow.StepMeasurements)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	v, err = svc.ValidateStep(context.Background(), owner, view.ID, flow.StepCondition)
	require.NoError(t, err)
	assert.False(t, v.Valid)

	_, err = svc.ValidateStep(context.Background(), owner, view.ID, flow.Step(9))
	assert.Equal(t, apperrors.ErrBadRequest, appCode(t, err))
}

func TestService_BackFromFirstStepDiscards(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	nav, err := svc.Back(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.True(t, nav.Cancelled)

	_, err = svc.Get(context.Background(), owner, view.ID)
	assert.Equal(t, apperrors.ErrNotFound, appCode(t, err))
}

func TestService_Cancel(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	require.NoError(t, svc.Cancel(context.Background(), owner, view.ID))
	_, err := svc.Get(context.Background(), owner, view.ID)
	assert.Equal(t, apperrors.ErrNotFound, appCode(t, err))
}

func TestService_SubmitEndToEnd(t *testing.T) {
	sub := &stubSubmitter{}
	svc := newTestService(sub)
	owner := model.Owner{ID: uuid.New(), Email: "office@clinic.example"}
	view, _ := svc.Start(context.Background(), owner)

	driveToReview(t, svc, owner, view.ID)

	review, err := svc.Get(context.Background(), owner, view.ID)
	require.NoError(t, err)
	require.NotNil(t, review.Derived.AgeYears)
	assert.Equal(t, 13, *review.Derived.AgeYears)
	assert.True(t, review.Derived.Flags.WeightJump)

	receipt, err := svc.Submit(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsultStatusSubmitted, receipt.Consult.Status)

	after, err := svc.Get(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StateSubmitted, after.State)
	assert.Equal(t, model.Draft{}, after.Draft)
	assert.Equal(t, receipt, after.Receipt)

	err = svc.Cancel(context.Background(), owner, view.ID)
	assert.Equal(t, apperrors.ErrConflict, appCode(t, err))
	assert.Equal(t, 1, sub.calls)
}

func TestService_SubmitFailureKeepsDraft(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("store offline")}
	svc := newTestService(sub)
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)
	driveToReview(t, svc, owner, view.ID)

	_, err := svc.Submit(context.Background(), owner, view.ID)
	assert.Equal(t, apperrors.ErrUnavailable, appCode(t, err))

	got, err := svc.Get(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StateEditing, got.State)
	assert.Equal(t, "Jane Doe", got.Draft.Patient.FullName)

	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	_, err = svc.Submit(context.Background(), owner, view.ID)
	assert.NoError(t, err)
}

func TestService_SubmitBeforeReview(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	_, err := svc.Submit(context.Background(), owner, view.ID)
	assert.Equal(t, apperrors.ErrConflict, appCode(t, err))
}

func TestService_ConcurrentUpdatesAreSerialised(t *testing.T) {
	svc := newTestService(&stubSubmitter{})
	owner := model.Owner{ID: uuid.New()}
	view, _ := svc.Start(context.Background(), owner)

	labs := []string{"hba1c", "lipid_panel", "thyroid_panel", "liver_panel", "igf1"}
	var wg sync.WaitGroup
	for _, lab := range labs {
		wg.Add(1)
		go func(lab string) {
			defer wg.Done()
			_, err := svc.UpdateFields(context.Background(), owner, view.ID, updates("labs_available", lab))
			assert.NoError(t, err)
		}(lab)
	}
	wg.Wait()

	got, err := svc.Get(context.Background(), owner, view.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, labs, got.Draft.Labs)
}
