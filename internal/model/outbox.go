package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

const (
	EventDiagnosisCreated   = "DIAGNOSIS_CREATED"
	EventDiagnosisEmergency = "DIAGNOSIS_EMERGENCY"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// DiagnosisEvent is the outbox payload for a stored diagnosis.
type DiagnosisEvent struct {
	DiagnosisID   uuid.UUID `json:"diagnosis_id"`
	PatientName   string    `json:"patient_name"`
	Age           int       `json:"age"`
	Sex           string    `json:"sex"`
	Symptoms      string    `json:"symptoms"`
	Confidence    int       `json:"confidence"`
	IsEmergency   bool      `json:"is_emergency"`
	NeedsReferral bool      `json:"needs_referral"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewDiagnosisEvent builds the outbox event for d.
func NewDiagnosisEvent(d *Diagnosis) (*OutboxEvent, error) {
	payload, err := json.Marshal(DiagnosisEvent{
		DiagnosisID:   d.ID,
		PatientName:   d.PatientName,
		Age:           d.Age,
		Sex:           d.Sex,
		Symptoms:      d.Symptoms,
		Confidence:    d.Confidence,
		IsEmergency:   d.IsEmergency,
		NeedsReferral: d.NeedsReferral,
		CreatedAt:     d.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	eventType := EventDiagnosisCreated
	if d.IsEmergency {
		eventType = EventDiagnosisEmergency
	}
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
	}, nil
}
