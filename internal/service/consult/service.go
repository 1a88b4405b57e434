package consult

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/econsult/internal/clinical"
	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

// MaxInitials bounds the de-identified name.
const MaxInitials = 4

// Service turns a completed draft into a persisted, de-identified consult. It satisfies
// intake.Submitter.
type Service struct {
	repo    repository.ConsultRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo repository.ConsultRepository, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		metrics: m,
		now:     time.Now,
	}
}

// Initials keeps the first letter of each whitespace-separated token, upper-cased, up to
// MaxInitials letters. Leading punctuation is skipped and tokens without a letter are dropped.
func Initials(fullName string) string {
	var b strings.Builder
	n := 0
	for _, token := range strings.Fields(fullName) {
		if n == MaxInitials {
			break
		}
		r, ok := firstLetter(token)
		if !ok {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		n++
	}
	return b.String()
}

func firstLetter(token string) (rune, bool) {
	for len(token) > 0 {
		r, size := utf8.DecodeRuneInString(token)
		if r != utf8.RuneError && unicode.IsLetter(r) {
			return r, true
		}
		token = token[size:]
	}
	return 0, false
}

// BuildRecord applies the de-identification boundary: nothing but initials, age, category
// and question leaves the draft.
func BuildRecord(owner model.Owner, draft *model.Draft, today time.Time) *model.Consult {
	age := 0
	if draft.Patient.DateOfBirth != nil {
		age = clinical.Age(*draft.Patient.DateOfBirth, today)
	}
	return &model.Consult{
		OwnerID:           owner.ID,
		PatientInitials:   Initials(draft.Patient.FullName),
		PatientAge:        age,
		ConditionCategory: draft.Clinical.Category,
		Status:            model.ConsultStatusSubmitted,
		ClinicalQuestion:  draft.Clinical.Question,
	}
}

// Submit persists the record and its submission event. Any failure, including a panic in
// the store, comes back as a retryable error and leaves draft untouched.
func (s *Service) Submit(ctx context.Context, owner model.Owner, draft *model.Draft) (receipt *model.SubmissionReceipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("consult submission panicked")
			s.failed("panic")
			receipt = nil
			err = apperrors.Unavailable("submission failed, please retry", fmt.Errorf("panic: %v", p))
		}
	}()

	if draft == nil {
		return nil, apperrors.BadRequest("draft is required", nil)
	}
	if !draft.Attestation.Complete() {
		return nil, apperrors.Unprocessable("attestation is incomplete", nil)
	}

	now := s.now()
	consult := BuildRecord(owner, draft, now)
	// The id is fixed here so the event can reference it inside the same transaction.
	consult.ID = uuid.New()

	event, err := model.NewOutboxEvent(model.EventConsultSubmitted, model.ConsultSubmittedEvent{
		ConsultID:         consult.ID,
		OwnerID:           owner.ID,
		OwnerEmail:        owner.Email,
		PatientInitials:   consult.PatientInitials,
		ConditionCategory: consult.ConditionCategory,
		Status:            consult.Status,
		CreatedAt:         now,
	})
	if err != nil {
		s.failed("encode")
		return nil, apperrors.Internal(fmt.Errorf("failed to encode submission event: %w", err))
	}

	if err := s.repo.Create(ctx, consult, event); err != nil {
		s.failed("store")
		log.Error().Err(err).Str("owner_id", owner.ID.String()).Msg("failed to persist consult")
		return nil, apperrors.Unavailable("submission failed, please retry", err)
	}

	s.metrics.ConsultsSubmitted.Inc()
	log.Info().
		Str("consult_id", consult.ID.String()).
		Str("owner_id", owner.ID.String()).
		Str("condition_category", string(consult.ConditionCategory)).
		Msg("consult submitted")

	assessment := clinical.Assess(draft.Measurements)
	return &model.SubmissionReceipt{
		Consult: consult,
		BMI:     assessment.BMI,
		Flags:   assessment.Flags.Raised(),
	}, nil
}

func (s *Service) failed(reason string) {
	s.metrics.SubmissionsFailed.WithLabelValues(reason).Inc()
}
