package intake

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/econsult/internal/clinical"
	flow "github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

const lockStripes = 64

// FieldUpdate is one edit as received from the client.
type FieldUpdate struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// View is what the client renders for a session.
type View struct {
	ID       uuid.UUID                `json:"id"`
	Step     flow.Step                `json:"step"`
	StepName string                   `json:"step_name"`
	State    flow.State               `json:"state"`
	Draft    model.Draft              `json:"draft"`
	Derived  flow.Derived             `json:"derived"`
	Missing  []flow.FieldError        `json:"missing,omitempty"`
	Receipt  *model.SubmissionReceipt `json:"receipt,omitempty"`
}

type StepValidation struct {
	Step    flow.Step         `json:"step"`
	Valid   bool              `json:"valid"`
	Missing []flow.FieldError `json:"missing,omitempty"`
}

type NavigationResult struct {
	flow.Navigation
	View *View `json:"session"`
}

type Config struct {
	SubmitTimeout time.Duration
}

// Service drives intake sessions held in a DraftStore. Requests against one session are
// serialised; every call is scoped to the owner that started the session.
type Service struct {
	store     repository.DraftStore
	submitter flow.Submitter
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

func NewService(store repository.DraftStore, submitter flow.Submitter, m *metrics.Metrics, cfg Config) *Service {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	return &Service{
		store:     store,
		submitter: submitter,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) lock(id uuid.UUID) func() {
	h := fnv.New32a()
	h.Write(id[:])
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Start opens a new session on the first step with an empty draft.
func (s *Service) Start(ctx context.Context, owner model.Owner) (*View, error) {
	session := flow.New(owner.ID,
		flow.WithClock(s.now),
		flow.WithAssessmentHook(s.observeAssessment),
	)
	if err := s.store.Save(ctx, session); err != nil {
		return nil, apperrors.Internal(err)
	}
	s.metrics.IntakeSessions.WithLabelValues("started").Inc()
	s.metrics.ActiveDrafts.Set(float64(s.store.Count()))

	log.Info().Str("session_id", session.ID.String()).Str("owner_id", owner.ID.String()).Msg("intake session started")
	return s.view(session), nil
}

func (s *Service) Get(ctx context.Context, owner model.Owner, id uuid.UUID) (*View, error) {
	var view *View
	err := s.withSession(ctx, owner, id, func(session *flow.Session) error {
		view = s.view(session)
		return nil
	})
	return view, err
}

// UpdateFields applies edits in order. Every edit is attempted; rejected ones are reported
// together and leave their field as the parser left it.
func (s *Service) UpdateFields(ctx context.Context, owner model.Owner, id uuid.UUID, updates []FieldUpdate) (*View, error) {
	var view *View
	err := s.withSession(ctx, owner, id, func(session *flow.Session) error {
		var fieldErrs []apperrors.FieldError
		for _, u := range updates {
			err := session.UpdateField(u.Key, u.Value)
			switch {
			case err == nil:
			case errors.Is(err, flow.ErrUnknownField):
				fieldErrs = append(fieldErrs, apperrors.FieldError{Field: u.Key, Message: "unknown field"})
			case errors.Is(err, flow.ErrSessionClosed):
				return apperrors.Conflict("intake session is closed", err)
			default:
				var fe flow.FieldError
				if !errors.As(err, &fe) {
					return apperrors.Internal(err)
				}
				fieldErrs = append(fieldErrs, apperrors.FieldError{Field: fe.Field, Message: fe.Message})
			}
		}
		view = s.view(session)
		if len(fieldErrs) > 0 {
			return apperrors.Unprocessable("some fields were rejected", fieldErrs)
		}
		return nil
	})
	return view, err
}

func (s *Service) ValidateStep(ctx context.Context, owner model.Owner, id uuid.UUID, step flow.Step) (*StepValidation, error) {
	if !step.Valid() {
		return nil, apperrors.BadRequest("unknown step", nil)
	}
	var out *StepValidation
	err := s.withSession(ctx, owner, id, func(session *flow.Session) error {
		missing := session.Missing(step)
		out = &StepValidation{Step: step, Valid: len(missing) == 0, Missing: missing}
		return nil
	})
	return out, err
}

func (s *Service) Next(ctx context.Context, owner model.Owner, id uuid.UUID) (*NavigationResult, error) {
	return s.navigate(ctx, owner, id, "next", (*flow.Session).GoNext)
}

// Back steps back; from the first step it cancels the session and removes the draft.
func (s *Service) Back(ctx context.Context, owner model.Owner, id uuid.UUID) (*NavigationResult, error) {
	return s.navigate(ctx, owner, id, "back", (*flow.Session).GoBack)
}

func (s *Service) navigate(ctx context.Context, owner model.Owner, id uuid.UUID, direction string, move func(*flow.Session) flow.Navigation) (*NavigationResult, error) {
	var out *NavigationResult
	err := s.withSession(ctx, owner, id, func(session *flow.Session) error {
		if session.State() != flow.StateEditing {
			return apperrors.Conflict("intake session is closed", flow.ErrSessionClosed)
		}
		nav := move(session)
		s.metrics.IntakeSteps.WithLabelValues(direction, nav.From.String(), navResult(nav)).Inc()
		if nav.Cancelled {
			s.discard(ctx, session)
		}
		out = &NavigationResult{Navigation: nav, View: s.view(session)}
		return nil
	})
	return out, err
}

func navResult(nav flow.Navigation) string {
	switch {
	case nav.Cancelled:
		return "cancelled"
	case nav.Moved:
		return "moved"
	default:
		return "blocked"
	}
}

// Cancel abandons the session. Nothing is persisted.
func (s *Service) Cancel(ctx context.Context, owner model.Owner, id uuid.UUID) error {
	return s.withSession(ctx, owner, id, func(session *flow.Session) error {
		if session.State() == flow.StateSubmitted {
			return apperrors.Conflict("intake session was already submitted", flow.ErrSessionClosed)
		}
		session.Cancel()
		s.discard(ctx, session)
		return nil
	})
}

// Submit persists the session's draft. On failure the session stays on the review step
// with its draft intact.
func (s *Service) Submit(ctx context.Context, owner model.Owner, id uuid.UUID) (*model.SubmissionReceipt, error) {
	var receipt *model.SubmissionReceipt
	err := s.withSession(ctx, owner, id, func(session *flow.Session) error {
		submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()

		r, err := session.Submit(submitCtx, s.submitter, owner)
		if err != nil {
			return submitError(err)
		}
		receipt = r
		s.metrics.IntakeSessions.WithLabelValues("submitted").Inc()
		return s.store.Save(ctx, session)
	})
	return receipt, err
}

func submitError(err error) error {
	var incomplete *flow.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		fields := make([]apperrors.FieldError, 0, len(incomplete.Fields))
		for _, f := range incomplete.Fields {
			fields = append(fields, apperrors.FieldError{Field: f.Field, Message: f.Message})
		}
		return apperrors.Unprocessable("step "+incomplete.Step.String()+" is incomplete", fields)
	case errors.Is(err, flow.ErrNotAtReview):
		return apperrors.Conflict(err.Error(), err)
	case errors.Is(err, flow.ErrSessionClosed):
		return apperrors.Conflict("intake session is closed", err)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Unavailable("submission failed, please retry", err)
}

func (s *Service) withSession(ctx context.Context, owner model.Owner, id uuid.UUID, fn func(*flow.Session) error) error {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("intake session", err)
		}
		return apperrors.Internal(err)
	}
	if session.OwnerID != owner.ID {
		return apperrors.NotFound("intake session", nil)
	}
	return fn(session)
}

func (s *Service) discard(ctx context.Context, session *flow.Session) {
	if err := s.store.Delete(ctx, session.ID); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to discard intake draft")
	}
	s.metrics.IntakeSessions.WithLabelValues("cancelled").Inc()
	s.metrics.ActiveDrafts.Set(float64(s.store.Count()))
	log.Info().Str("session_id", session.ID.String()).Msg("intake session cancelled")
}

func (s *Service) observeAssessment(a clinical.Assessment) {
	raised := a.Flags.Raised()
	for _, flag := range raised {
		s.metrics.ClinicalFlags.WithLabelValues(flag).Inc()
	}
	log.Debug().Strs("flags", raised).Bool("bmi_known", a.BMI != nil).Msg("measurements reassessed")
}

func (s *Service) view(session *flow.Session) *View {
	v := &View{
		ID:       session.ID,
		Step:     session.Step(),
		StepName: session.Step().String(),
		State:    session.State(),
		Draft:    session.Draft(),
		Derived:  session.Derived(),
		Receipt:  session.Receipt(),
	}
	if session.State() == flow.StateEditing {
		v.Missing = session.Missing(session.Step())
	}
	return v
}
