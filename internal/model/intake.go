package model

import (
	"time"
)

// ChecklistNone is the sentinel option that excludes every other checklist selection.
const ChecklistNone = "none"

type ConditionCategory string

const (
	ConditionObesity  ConditionCategory = "obesity"
	ConditionGrowth   ConditionCategory = "growth"
	ConditionDiabetes ConditionCategory = "diabetes"
	ConditionPuberty  ConditionCategory = "puberty"
	ConditionThyroid  ConditionCategory = "thyroid"
	ConditionPCOS     ConditionCategory = "pcos"
	ConditionOther    ConditionCategory = "other"
)

var ConditionCategories = []ConditionCategory{
	ConditionObesity,
	ConditionGrowth,
	ConditionDiabetes,
	ConditionPuberty,
	ConditionThyroid,
	ConditionPCOS,
	ConditionOther,
}

type InsuranceType string

const (
	InsuranceMedicaid   InsuranceType = "medicaid"
	InsuranceCommercial InsuranceType = "commercial"
	InsuranceTricare    InsuranceType = "tricare"
	InsuranceSelfPay    InsuranceType = "self_pay"
	InsuranceUninsured  InsuranceType = "uninsured"
	InsuranceOther      InsuranceType = "other"
)

var InsuranceTypes = []InsuranceType{
	InsuranceMedicaid,
	InsuranceCommercial,
	InsuranceTricare,
	InsuranceSelfPay,
	InsuranceUninsured,
	InsuranceOther,
}

type ResponseMethod string

const (
	ResponseEmail ResponseMethod = "email"
	ResponseFax   ResponseMethod = "fax"
)

var Genders = []string{"female", "male", "nonbinary", "unknown"}

// LabOptions are the selectable values of the labs-available checklist.
var LabOptions = []string{
	"hba1c",
	"fasting_glucose",
	"lipid_panel",
	"thyroid_panel",
	"liver_panel",
	"bone_age_xray",
	"igf1",
	ChecklistNone,
}

// UrgencyOptions are the selectable values of the urgency checklist.
var UrgencyOptions = []string{
	"rapid_weight_change",
	"symptomatic_hyperglycemia",
	"growth_deceleration",
	"early_puberty_signs",
	"family_concern",
	ChecklistNone,
}

// Draft is the in-progress intake record held by one session until it is submitted.
// Optional values are pointers; nil means the input was never provided or did not parse.
type Draft struct {
	Patient      PatientInfo     `json:"patient"`
	Coverage     Coverage        `json:"coverage"`
	Measurements Measurements    `json:"measurements"`
	Clinical     ClinicalDetails `json:"clinical"`
	Labs         []string        `json:"labs_available"`
	Urgency      []string        `json:"urgency_flags"`
	History      History         `json:"history"`
	Referrer     Referrer        `json:"referrer"`
	Attestation  Attestation     `json:"attestation"`
}

type PatientInfo struct {
	FullName      string     `json:"full_name" validate:"required"`
	DateOfBirth   *time.Time `json:"date_of_birth" validate:"required"`
	Gender        string     `json:"gender" validate:"required"`
	RaceEthnicity string     `json:"race_ethnicity,omitempty"`
}

type Coverage struct {
	InsuranceType  InsuranceType `json:"insurance_type,omitempty"`
	InsuranceOther string        `json:"insurance_other,omitempty"`
	MemberID       string        `json:"member_id,omitempty"`
	SubscriberName string        `json:"subscriber_name,omitempty"`
	SubscriberDOB  *time.Time    `json:"subscriber_dob,omitempty"`
}

// Measurements hold the raw growth inputs the clinical flags are derived from.
type Measurements struct {
	HeightCm                *float64 `json:"height_cm"`
	WeightKg                *float64 `json:"weight_kg"`
	WeightPercentileCurrent *float64 `json:"weight_percentile_current"`
	WeightPercentile12Mo    *float64 `json:"weight_percentile_12mo"`
	HeightPercentileCurrent *float64 `json:"height_percentile_current"`
	HeightPercentile12Mo    *float64 `json:"height_percentile_12mo"`
	GrowthVelocity          *float64 `json:"growth_velocity_cm_per_year"`
}

type ClinicalDetails struct {
	Category ConditionCategory `json:"condition_category" validate:"required"`
	Question string            `json:"clinical_question" validate:"required"`
	Notes    string            `json:"additional_notes,omitempty"`
}

type History struct {
	PriorSpecialtyVisit *bool      `json:"prior_specialty_visit"`
	LastVisitDate       *time.Time `json:"last_visit_date,omitempty"`
}

type Referrer struct {
	ClinicianName  string         `json:"clinician_name" validate:"required"`
	Phone          string         `json:"phone,omitempty"`
	Email          string         `json:"email" validate:"required,email"`
	ResponseMethod ResponseMethod `json:"response_method" validate:"required,oneof=email fax"`
}

// Attestation gates submission: every boolean must be true and the admin must sign.
type Attestation struct {
	InfoAccurate    bool       `json:"info_accurate" validate:"required"`
	GuardianConsent bool       `json:"guardian_consent" validate:"required"`
	NotEmergency    bool       `json:"not_emergency" validate:"required"`
	AdminName       string     `json:"admin_name" validate:"required"`
	Signature       string     `json:"signature" validate:"required"`
	Date            *time.Time `json:"date,omitempty"`
}

// Complete reports whether the attestation allows submission.
func (a Attestation) Complete() bool {
	return a.InfoAccurate && a.GuardianConsent && a.NotEmergency &&
		a.AdminName != "" && a.Signature != ""
}
