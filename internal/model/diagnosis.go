package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DiagnosisRequest is the intake payload posted by the web client.
type DiagnosisRequest struct {
	FullName  string   `json:"fullName" binding:"required"`
	Age       *float64 `json:"age" binding:"required"`
	Sex       string   `json:"sex" binding:"required"`
	Weight    *float64 `json:"weight" binding:"required"`
	Allergies *string  `json:"allergies"`
	Symptoms  string   `json:"symptoms" binding:"required"`
	Lang      string   `json:"lang"`
}

// DiagnosisRequiredFields lists the fields reported when any are missing.
var DiagnosisRequiredFields = []string{"fullName", "age", "sex", "weight", "symptoms"}

// PatientInput is the normalized intake data.
type PatientInput struct {
	FullName  string  `json:"fullName"`
	Age       int     `json:"age"`
	Sex       string  `json:"sex"`
	Weight    float64 `json:"weight"`
	Allergies *string `json:"allergies"`
	Symptoms  string  `json:"symptoms"`
	Lang      string  `json:"lang"`
}

// Normalize validates the request and returns trimmed, lower-cased input.
func (r *DiagnosisRequest) Normalize() (*PatientInput, error) {
	in := &PatientInput{
		FullName:  strings.TrimSpace(r.FullName),
		Sex:       strings.ToLower(strings.TrimSpace(r.Sex)),
		Allergies: optionalText(r.Allergies),
		Symptoms:  strings.TrimSpace(r.Symptoms),
		Lang:      strings.ToLower(strings.TrimSpace(r.Lang)),
	}
	if in.FullName == "" || in.Sex == "" || in.Symptoms == "" || r.Age == nil || r.Weight == nil {
		return nil, MissingFields(DiagnosisRequiredFields...)
	}
	if in.Lang == "" {
		in.Lang = "en"
	}

	var err error
	if in.Age, err = validateAge(*r.Age); err != nil {
		return nil, err
	}
	if in.Weight, err = validateWeight(*r.Weight); err != nil {
		return nil, err
	}
	return in, nil
}

// DiagnosisResult is the structured view of a model reply.
type DiagnosisResult struct {
	Diagnosis       string    `json:"diagnosis"`
	Confidence      int       `json:"confidence"`
	IsEmergency     bool      `json:"isEmergency"`
	NeedsReferral   bool      `json:"needsReferral"`
	Timestamp       time.Time `json:"timestamp"`
	CriticalWarning bool      `json:"criticalWarning,omitempty"`
}

// Diagnosis is a stored diagnosis row.
type Diagnosis struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientName   string    `db:"patient_name" json:"patient_name"`
	Age           int       `db:"age" json:"age"`
	Sex           string    `db:"sex" json:"sex"`
	Weight        float64   `db:"weight" json:"weight"`
	Allergies     *string   `db:"allergies" json:"allergies"`
	Symptoms      string    `db:"symptoms" json:"symptoms"`
	Lang          string    `db:"lang" json:"lang"`
	Diagnosis     string    `db:"diagnosis" json:"diagnosis"`
	Confidence    int       `db:"confidence" json:"confidence"`
	IsEmergency   bool      `db:"is_emergency" json:"is_emergency"`
	NeedsReferral bool      `db:"needs_referral" json:"needs_referral"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NewDiagnosis builds the row stored for in and result.
func NewDiagnosis(in *PatientInput, result *DiagnosisResult) *Diagnosis {
	return &Diagnosis{
		ID:            uuid.New(),
		PatientName:   in.FullName,
		Age:           in.Age,
		Sex:           in.Sex,
		Weight:        in.Weight,
		Allergies:     in.Allergies,
		Symptoms:      in.Symptoms,
		Lang:          in.Lang,
		Diagnosis:     result.Diagnosis,
		Confidence:    result.Confidence,
		IsEmergency:   result.IsEmergency,
		NeedsReferral: result.NeedsReferral,
		CreatedAt:     result.Timestamp,
	}
}
