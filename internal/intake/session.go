// Package intake implements the guided e-Consult intake: a six-step linear workflow over a
// single mutable draft, gated by per-step validation and finished by an attested submission.
package intake

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/econsult/internal/clinical"
	"github.com/jwalitptl/econsult/internal/model"
)

// State is the lifecycle of a session, independent of the current step.
type State string

const (
	StateEditing   State = "editing"
	StateSubmitted State = "submitted"
	StateCancelled State = "cancelled"
)

// Submitter persists a completed draft on behalf of owner.
type Submitter interface {
	Submit(ctx context.Context, owner model.Owner, draft *model.Draft) (*model.SubmissionReceipt, error)
}

// Navigation reports the outcome of a step transition attempt.
type Navigation struct {
	From      Step         `json:"from"`
	Step      Step         `json:"step"`
	Moved     bool         `json:"moved"`
	Cancelled bool         `json:"cancelled"`
	Missing   []FieldError `json:"missing,omitempty"`
}

// Derived is the computed clinical view of the current draft. It is never stored.
type Derived struct {
	AgeYears *int `json:"age_years"`
	clinical.Assessment
}

type Option func(*Session)

// WithClock overrides the clock used for age derivation.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithAssessmentHook registers a callback invoked with the fresh assessment after every
// measurement edit.
func WithAssessmentHook(fn func(clinical.Assessment)) Option {
	return func(s *Session) {
		s.onAssess = fn
	}
}

// Session holds one owner's draft and the workflow position. It is not safe for
// concurrent use; callers serialise access.
type Session struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	step     Step
	state    State
	draft    *model.Draft
	receipt  *model.SubmissionReceipt
	now      func() time.Time
	onAssess func(clinical.Assessment)
}

// New initializes an empty draft positioned on the first step.
func New(ownerID uuid.UUID, opts ...Option) *Session {
	s := &Session{
		ID:      uuid.New(),
		OwnerID: ownerID,
		step:    StepPatientInfo,
		state:   StateEditing,
		draft:   &model.Draft{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.CreatedAt = s.now()
	s.UpdatedAt = s.CreatedAt
	return s
}

func (s *Session) Step() Step {
	return s.step
}

func (s *Session) State() State {
	return s.state
}

// Receipt is set once the session has been submitted.
func (s *Session) Receipt() *model.SubmissionReceipt {
	return s.receipt
}

// Draft returns a copy of the draft; the zero Draft once the session is closed.
func (s *Session) Draft() model.Draft {
	if s.draft == nil {
		return model.Draft{}
	}
	d := *s.draft
	d.Labs = slices.Clone(s.draft.Labs)
	d.Urgency = slices.Clone(s.draft.Urgency)
	return d
}

// Derived recomputes age, BMI and flags from the current inputs.
func (s *Session) Derived() Derived {
	d := s.Draft()
	out := Derived{Assessment: clinical.Assess(d.Measurements)}
	if d.Patient.DateOfBirth != nil {
		age := clinical.Age(*d.Patient.DateOfBirth, s.now())
		out.AgeYears = &age
	}
	return out
}

// UpdateField sets one draft field from its text form. Measurement edits re-run the
// clinical derivation before returning.
func (s *Session) UpdateField(key, value string) error {
	if s.state != StateEditing {
		return ErrSessionClosed
	}
	spec, ok := fieldSpecs[key]
	if !ok {
		return ErrUnknownField
	}
	if err := spec.apply(s.draft, key, value); err != nil {
		return err
	}
	if spec.notFuture != nil {
		if err := rejectFuture(spec.notFuture(s.draft), key, s.now()); err != nil {
			return err
		}
	}
	s.UpdatedAt = s.now()

	if spec.measurement {
		a := clinical.Assess(s.draft.Measurements)
		if s.onAssess != nil {
			s.onAssess(a)
		}
	}
	return nil
}

// Missing lists the fields that keep step from validating.
func (s *Session) Missing(step Step) []FieldError {
	return ValidateDraftStep(s.draft, step)
}

// ValidateStep reports whether every required field of step is populated.
func (s *Session) ValidateStep(step Step) bool {
	return len(s.Missing(step)) == 0
}

// GoNext advances one step when the current step validates. On failure the session
// stays put and the missing fields are reported. The review step is terminal.
func (s *Session) GoNext() Navigation {
	nav := Navigation{From: s.step, Step: s.step}
	if s.state != StateEditing {
		return nav
	}
	if missing := s.Missing(s.step); len(missing) > 0 {
		nav.Missing = missing
		return nav
	}
	if s.step == StepReview {
		return nav
	}
	s.step++
	s.UpdatedAt = s.now()
	nav.Step = s.step
	nav.Moved = true
	return nav
}

// GoBack moves one step back unconditionally. From the first step it cancels the whole
// workflow and discards the draft.
func (s *Session) GoBack() Navigation {
	nav := Navigation{From: s.step, Step: s.step}
	if s.state != StateEditing {
		return nav
	}
	if s.step == StepPatientInfo {
		s.Cancel()
		nav.Cancelled = true
		return nav
	}
	s.step--
	s.UpdatedAt = s.now()
	nav.Step = s.step
	nav.Moved = true
	return nav
}

// Cancel abandons the workflow. Nothing is persisted.
func (s *Session) Cancel() {
	if s.state != StateEditing {
		return
	}
	s.state = StateCancelled
	s.draft = nil
	s.UpdatedAt = s.now()
}

// Submit hands the draft to submitter from the review step. Every gated step is checked
// again first. When submitter fails the draft is left exactly as it was so the caller can
// retry; a repeated call after success returns the original receipt.
func (s *Session) Submit(ctx context.Context, submitter Submitter, owner model.Owner) (*model.SubmissionReceipt, error) {
	switch s.state {
	case StateSubmitted:
		return s.receipt, nil
	case StateCancelled:
		return nil, ErrSessionClosed
	}
	if s.step != StepReview {
		return nil, ErrNotAtReview
	}
	for step := StepPatientInfo; step < StepReview; step++ {
		if missing := s.Missing(step); len(missing) > 0 {
			return nil, &IncompleteError{Step: step, Fields: missing}
		}
	}

	draft := s.Draft()
	receipt, err := submitter.Submit(ctx, owner, &draft)
	if err != nil {
		return nil, err
	}

	s.receipt = receipt
	s.state = StateSubmitted
	s.draft = nil
	s.UpdatedAt = s.now()
	return receipt, nil
}
