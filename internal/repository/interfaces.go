package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrNotConfigured is returned by services running without a database.
	ErrNotConfigured = errors.New("database not configured")
)

// EventHandler handles one locked outbox event.
type EventHandler func(ctx context.Context, evt *model.OutboxEvent) error

// All repository interfaces in one file
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context) ([]*model.Patient, error)
	}

	DiagnosisRepository interface {
		// CreateWithEvent stores the diagnosis and its outbox event atomically.
		CreateWithEvent(ctx context.Context, d *model.Diagnosis, evt *model.OutboxEvent) error
		ListRecent(ctx context.Context, limit int) ([]*model.Diagnosis, error)
	}

	OutboxRepository interface {
		// ProcessPending locks up to limit pending events and passes each to
		// handle. Failed events stay pending until maxRetries is reached.
		ProcessPending(ctx context.Context, limit, maxRetries int, handle EventHandler) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
