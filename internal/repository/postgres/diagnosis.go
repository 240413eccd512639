package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
)

type diagnosisRepository struct {
	BaseRepository
}

func NewDiagnosisRepository(base BaseRepository) repository.DiagnosisRepository {
	return &diagnosisRepository{base}
}

func (r *diagnosisRepository) CreateWithEvent(ctx context.Context, d *model.Diagnosis, evt *model.OutboxEvent) (err error) {
	defer r.observe("diagnosis_create", time.Now(), &err)

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO diagnoses (
				id, patient_name, age, sex, weight, allergies, symptoms, lang,
				diagnosis, confidence, is_emergency, needs_referral, created_at
			) VALUES (
				:id, :patient_name, :age, :sex, :weight, :allergies, :symptoms, :lang,
				:diagnosis, :confidence, :is_emergency, :needs_referral, :created_at
			)
		`
		if _, err := tx.NamedExecContext(ctx, query, d); err != nil {
			return fmt.Errorf("failed to create diagnosis: %w", err)
		}

		if evt == nil {
			return nil
		}
		if err := insertOutboxEvent(ctx, tx, evt); err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
		return nil
	})
}

func (r *diagnosisRepository) ListRecent(ctx context.Context, limit int) (rows []*model.Diagnosis, err error) {
	defer r.observe("diagnosis_list", time.Now(), &err)

	query := `
		SELECT id, patient_name, age, sex, weight, allergies, symptoms, lang,
			diagnosis, confidence, is_emergency, needs_referral, created_at
		FROM diagnoses
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows = []*model.Diagnosis{}
	if err = r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list diagnoses: %w", err)
	}
	return rows, nil
}
