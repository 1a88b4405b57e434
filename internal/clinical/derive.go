// Package clinical derives age, body-mass index and growth risk flags from raw intake
// measurements. Every function is pure: missing or malformed inputs suppress the derived
// value instead of producing an error.
package clinical

import (
	"math"
	"time"

	"github.com/jwalitptl/econsult/internal/model"
)

const (
	// BMIHighThreshold is an adult cut-off applied to pediatric patients. It is a known
	// simplification; accurate assessment needs age- and sex-specific BMI percentiles.
	BMIHighThreshold = 30.0

	WeightJumpPercentiles      = 20.0
	PoorLinearHeightPercentile = 25.0
	PoorLinearWeightPercentile = 75.0
	HeightBelowPercentile      = 3.0
)

const (
	FlagBMIHigh                        = "bmi_high"
	FlagWeightJump                     = "weight_jump"
	FlagPoorLinearGrowthWithWeightGain = "poor_linear_growth_with_weight_gain"
	FlagHeightBelow3rd                 = "height_below_3rd"
)

// Flags are the automated risk indicators shown on the review step.
type Flags struct {
	BMIHigh                        bool `json:"bmi_high"`
	WeightJump                     bool `json:"weight_jump"`
	PoorLinearGrowthWithWeightGain bool `json:"poor_linear_growth_with_weight_gain"`
	HeightBelow3rd                 bool `json:"height_below_3rd"`
}

// Raised lists the names of the flags that are set, in a stable order.
func (f Flags) Raised() []string {
	raised := make([]string, 0, 4)
	if f.BMIHigh {
		raised = append(raised, FlagBMIHigh)
	}
	if f.WeightJump {
		raised = append(raised, FlagWeightJump)
	}
	if f.PoorLinearGrowthWithWeightGain {
		raised = append(raised, FlagPoorLinearGrowthWithWeightGain)
	}
	if f.HeightBelow3rd {
		raised = append(raised, FlagHeightBelow3rd)
	}
	return raised
}

// Any reports whether at least one flag is raised.
func (f Flags) Any() bool {
	return f.BMIHigh || f.WeightJump || f.PoorLinearGrowthWithWeightGain || f.HeightBelow3rd
}

// Assessment bundles everything derived from a measurements snapshot.
type Assessment struct {
	BMI   *float64 `json:"bmi"`
	Flags Flags    `json:"flags"`
}

// Age returns the number of complete birthdays between dob and today. A dob after today
// yields 0.
func Age(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// BMI computes weight / height(m)^2 rounded to one decimal place. ok is false when either
// input is missing, non-positive or not a finite number.
func BMI(heightCm, weightKg *float64) (float64, bool) {
	h, ok := usable(heightCm)
	if !ok || h <= 0 {
		return 0, false
	}
	w, ok := usable(weightKg)
	if !ok || w <= 0 {
		return 0, false
	}
	meters := h / 100
	return math.Round(w/(meters*meters)*10) / 10, true
}

// EvaluateFlags applies the four fixed risk predicates.
func EvaluateFlags(m model.Measurements) Flags {
	var f Flags

	if bmi, ok := BMI(m.HeightCm, m.WeightKg); ok {
		f.BMIHigh = bmi >= BMIHighThreshold
	}

	wCur, wCurOK := percentile(m.WeightPercentileCurrent)
	wPrev, wPrevOK := percentile(m.WeightPercentile12Mo)
	hCur, hCurOK := percentile(m.HeightPercentileCurrent)

	if wCurOK && wPrevOK {
		f.WeightJump = wCur-wPrev >= WeightJumpPercentiles
	}
	if hCurOK && wCurOK {
		f.PoorLinearGrowthWithWeightGain = hCur < PoorLinearHeightPercentile && wCur > PoorLinearWeightPercentile
	}
	if hCurOK {
		f.HeightBelow3rd = hCur < HeightBelowPercentile
	}
	return f
}

// Assess derives BMI and flags from one measurements snapshot.
func Assess(m model.Measurements) Assessment {
	a := Assessment{Flags: EvaluateFlags(m)}
	if bmi, ok := BMI(m.HeightCm, m.WeightKg); ok {
		a.BMI = &bmi
	}
	return a
}

func usable(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// percentile treats values outside [0, 100] as absent.
func percentile(v *float64) (float64, bool) {
	p, ok := usable(v)
	if !ok || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}
