package intake

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/econsult/internal/model"
)

// Step is one screen of the linear intake workflow.
type Step int

const (
	StepPatientInfo Step = iota + 1
	StepMeasurements
	StepCondition
	StepClinical
	StepProvider
	StepReview
)

var stepNames = map[Step]string{
	StepPatientInfo:  "patient_info",
	StepMeasurements: "measurements",
	StepCondition:    "condition",
	StepClinical:     "clinical",
	StepProvider:     "provider_attestation",
	StepReview:       "review",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

func (s Step) Valid() bool {
	return s >= StepPatientInfo && s <= StepReview
}

// ParseStep accepts a step number ("3") or name ("condition").
func ParseStep(raw string) (Step, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		s := Step(n)
		return s, s.Valid()
	}
	for s, name := range stepNames {
		if name == raw {
			return s, true
		}
	}
	return 0, false
}

// requiredFields lists, per step, the Draft fields (Go namespace) that gate moving on.
// Steps without an entry are informational.
var requiredFields = map[Step][]string{
	StepPatientInfo: {
		"Patient.FullName",
		"Patient.DateOfBirth",
		"Patient.Gender",
	},
	StepCondition: {
		"Clinical.Category",
	},
	StepClinical: {
		"Clinical.Question",
	},
	StepProvider: {
		"Referrer.ClinicianName",
		"Referrer.Email",
		"Referrer.ResponseMethod",
		"Attestation.InfoAccurate",
		"Attestation.GuardianConsent",
		"Attestation.NotEmergency",
		"Attestation.AdminName",
		"Attestation.Signature",
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateDraftStep returns the missing or invalid fields that block leaving step.
// It only reads the draft.
func ValidateDraftStep(d *model.Draft, step Step) []FieldError {
	fields, ok := requiredFields[step]
	if !ok {
		return nil
	}
	if d == nil {
		d = &model.Draft{}
	}

	err := validate.StructPartial(d, fields...)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "draft", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: messageFor(fe),
		})
	}
	return out
}

// fieldPath strips the root type from a validator namespace, e.g.
// "Draft.patient.full_name" becomes "patient.full_name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Bool {
			return "must be confirmed"
		}
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
