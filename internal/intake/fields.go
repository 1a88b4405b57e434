package intake

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/econsult/internal/model"
)

// DateLayout is the wire format of every date field.
const DateLayout = "2006-01-02"

type fieldSpec struct {
	measurement bool
	apply       func(d *model.Draft, key, value string) error
	// notFuture, when set, points at a date that may not be later than today.
	notFuture   func(*model.Draft) **time.Time
}

var fieldSpecs = map[string]fieldSpec{
	"patient.full_name":      text(func(d *model.Draft) *string { return &d.Patient.FullName }),
	"patient.date_of_birth":  pastDate(func(d *model.Draft) **time.Time { return &d.Patient.DateOfBirth }),
	"patient.gender":         enum(model.Genders, func(d *model.Draft) *string { return &d.Patient.Gender }),
	"patient.race_ethnicity": text(func(d *model.Draft) *string { return &d.Patient.RaceEthnicity }),

	"coverage.insurance_type": enum(stringsOf(model.InsuranceTypes), func(d *model.Draft) *string {
		return (*string)(&d.Coverage.InsuranceType)
	}),
	"coverage.insurance_other": text(func(d *model.Draft) *string { return &d.Coverage.InsuranceOther }),
	"coverage.member_id":       text(func(d *model.Draft) *string { return &d.Coverage.MemberID }),
	"coverage.subscriber_name": text(func(d *model.Draft) *string { return &d.Coverage.SubscriberName }),
	"coverage.subscriber_dob":  pastDate(func(d *model.Draft) **time.Time { return &d.Coverage.SubscriberDOB }),

	"measurements.height_cm":                   number(func(d *model.Draft) **float64 { return &d.Measurements.HeightCm }),
	"measurements.weight_kg":                   number(func(d *model.Draft) **float64 { return &d.Measurements.WeightKg }),
	"measurements.weight_percentile_current":   number(func(d *model.Draft) **float64 { return &d.Measurements.WeightPercentileCurrent }),
	"measurements.weight_percentile_12mo":      number(func(d *model.Draft) **float64 { return &d.Measurements.WeightPercentile12Mo }),
	"measurements.height_percentile_current":   number(func(d *model.Draft) **float64 { return &d.Measurements.HeightPercentileCurrent }),
	"measurements.height_percentile_12mo":      number(func(d *model.Draft) **float64 { return &d.Measurements.HeightPercentile12Mo }),
	"measurements.growth_velocity_cm_per_year": number(func(d *model.Draft) **float64 { return &d.Measurements.GrowthVelocity }),

	"clinical.condition_category": enum(stringsOf(model.ConditionCategories), func(d *model.Draft) *string {
		return (*string)(&d.Clinical.Category)
	}),
	"clinical.clinical_question": text(func(d *model.Draft) *string { return &d.Clinical.Question }),
	"clinical.additional_notes":  text(func(d *model.Draft) *string { return &d.Clinical.Notes }),

	"labs_available": checklist(model.LabOptions, func(d *model.Draft) *[]string { return &d.Labs }),
	"urgency_flags":  checklist(model.UrgencyOptions, func(d *model.Draft) *[]string { return &d.Urgency }),

	"history.prior_specialty_visit": optionalFlag(func(d *model.Draft) **bool { return &d.History.PriorSpecialtyVisit }),
	"history.last_visit_date":       date(func(d *model.Draft) **time.Time { return &d.History.LastVisitDate }),

	"referrer.clinician_name": text(func(d *model.Draft) *string { return &d.Referrer.ClinicianName }),
	"referrer.phone":          text(func(d *model.Draft) *string { return &d.Referrer.Phone }),
	"referrer.email":          text(func(d *model.Draft) *string { return &d.Referrer.Email }),
	"referrer.response_method": enum([]string{string(model.ResponseEmail), string(model.ResponseFax)}, func(d *model.Draft) *string {
		return (*string)(&d.Referrer.ResponseMethod)
	}),

	"attestation.info_accurate":    flag(func(d *model.Draft) *bool { return &d.Attestation.InfoAccurate }),
	"attestation.guardian_consent": flag(func(d *model.Draft) *bool { return &d.Attestation.GuardianConsent }),
	"attestation.not_emergency":    flag(func(d *model.Draft) *bool { return &d.Attestation.NotEmergency }),
	"attestation.admin_name":       text(func(d *model.Draft) *string { return &d.Attestation.AdminName }),
	"attestation.signature":        text(func(d *model.Draft) *string { return &d.Attestation.Signature }),
	"attestation.date":             date(func(d *model.Draft) **time.Time { return &d.Attestation.Date }),
}

// FieldKeys lists every key accepted by Session.UpdateField.
func FieldKeys() []string {
	keys := make([]string, 0, len(fieldSpecs))
	for k := range fieldSpecs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsMeasurementKey reports whether editing key changes the derived clinical view.
func IsMeasurementKey(key string) bool {
	return fieldSpecs[key].measurement
}

func text(get func(*model.Draft) *string) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, _, v string) error {
		*get(d) = strings.TrimSpace(v)
		return nil
	}}
}

// number never fails: input that is not a finite number is recorded as missing.
func number(get func(*model.Draft) **float64) fieldSpec {
	return fieldSpec{measurement: true, apply: func(d *model.Draft, _, v string) error {
		*get(d) = parseNumber(v)
		return nil
	}}
}

func date(get func(*model.Draft) **time.Time) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, key, v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			*get(d) = nil
			return nil
		}
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			*get(d) = nil
			return FieldError{Field: key, Message: "must be a date in YYYY-MM-DD format"}
		}
		*get(d) = &t
		return nil
	}}
}

func pastDate(get func(*model.Draft) **time.Time) fieldSpec {
	spec := date(get)
	spec.notFuture = get
	return spec
}

// rejectFuture clears a date that falls after the calendar day of now.
func rejectFuture(field **time.Time, key string, now time.Time) error {
	if *field == nil {
		return nil
	}
	y, m, d := now.Date()
	if (*field).After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		*field = nil
		return FieldError{Field: key, Message: "must not be in the future"}
	}
	return nil
}

func flag(get func(*model.Draft) *bool) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, key, v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			*get(d) = false
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return FieldError{Field: key, Message: "must be true or false"}
		}
		*get(d) = b
		return nil
	}}
}

func optionalFlag(get func(*model.Draft) **bool) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, key, v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			*get(d) = nil
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return FieldError{Field: key, Message: "must be true or false"}
		}
		*get(d) = &b
		return nil
	}}
}

func enum(options []string, get func(*model.Draft) *string) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, key, v string) error {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && !slices.Contains(options, v) {
			return FieldError{Field: key, Message: "must be one of: " + strings.Join(options, " ")}
		}
		*get(d) = v
		return nil
	}}
}

func checklist(options []string, get func(*model.Draft) *[]string) fieldSpec {
	return fieldSpec{apply: func(d *model.Draft, key, v string) error {
		v = strings.ToLower(strings.TrimSpace(v))
		if !slices.Contains(options, v) {
			return FieldError{Field: key, Message: "must be one of: " + strings.Join(options, " ")}
		}
		*get(d) = Toggle(*get(d), v)
		return nil
	}}
}

func parseNumber(v string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
