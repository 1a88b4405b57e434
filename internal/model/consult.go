package model

import (
	"time"

	"github.com/google/uuid"
)

type ConsultStatus string

const (
	ConsultStatusSubmitted    ConsultStatus = "submitted"
	ConsultStatusUnderReview  ConsultStatus = "under_review"
	ConsultStatusAwaitingInfo ConsultStatus = "awaiting_info"
	ConsultStatusCompleted    ConsultStatus = "completed"
)

// Consult is the de-identified record persisted on submission. Status changes after
// creation are made by the reviewing side, never by this service.
type Consult struct {
	ID                uuid.UUID         `db:"id" json:"id"`
	OwnerID           uuid.UUID         `db:"owner_id" json:"owner_id"`
	PatientInitials   string            `db:"patient_initials" json:"patient_initials"`
	PatientAge        int               `db:"patient_age" json:"patient_age"`
	ConditionCategory ConditionCategory `db:"condition_category" json:"condition_category"`
	Status            ConsultStatus     `db:"status" json:"status"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	ClinicalQuestion  string            `db:"clinical_question" json:"clinical_question"`
}

// Active reports whether the consult still needs attention from either side.
func (c *Consult) Active() bool {
	return c.Status != ConsultStatusCompleted
}

// ConsultStats are the dashboard summary counters.
type ConsultStats struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	ClosedThisMonth int `json:"closed_this_month"`
}

// Dashboard is the owner-scoped read model shown to the referring office.
type Dashboard struct {
	Stats     ConsultStats `json:"stats"`
	Active    []*Consult   `json:"active"`
	Completed []*Consult   `json:"completed"`
}

// SubmissionReceipt is returned to the caller after a successful submission. BMI is
// reported for confirmation only and is not part of the stored record.
type SubmissionReceipt struct {
	Consult *Consult `json:"consult"`
	BMI     *float64 `json:"bmi,omitempty"`
	Flags   []string `json:"flags,omitempty"`
}

const EventConsultSubmitted = "consult.submitted"

// ConsultSubmittedEvent is the outbox payload emitted alongside a new consult.
type ConsultSubmittedEvent struct {
	ConsultID         uuid.UUID         `json:"consult_id"`
	OwnerID           uuid.UUID         `json:"owner_id"`
	OwnerEmail        string            `json:"owner_email"`
	PatientInitials   string            `json:"patient_initials"`
	ConditionCategory ConditionCategory `json:"condition_category"`
	Status            ConsultStatus     `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}
