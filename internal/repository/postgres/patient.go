package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
)

const patientColumns = `id, full_name, age, sex, weight, allergies, contact_info, created_at, updated_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) (err error) {
	defer r.observe("patient_create", time.Now(), &err)

	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES (:id, :full_name, :age, :sex, :weight, :allergies, :contact_info, :created_at, :updated_at)
	`
	if _, err = r.db.NamedExecContext(ctx, query, patient); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (patient *model.Patient, err error) {
	defer r.observe("patient_get", time.Now(), &err)

	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	var p model.Patient
	if err = r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) (err error) {
	defer r.observe("patient_update", time.Now(), &err)

	patient.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE patients
		SET full_name = :full_name, age = :age, sex = :sex, weight = :weight,
			allergies = :allergies, contact_info = :contact_info, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, patient)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	return expectOne(res)
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.observe("patient_delete", time.Now(), &err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	return expectOne(res)
}

func (r *patientRepository) List(ctx context.Context) (patients []*model.Patient, err error) {
	defer r.observe("patient_list", time.Now(), &err)

	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at DESC`
	patients = []*model.Patient{}
	if err = r.db.SelectContext(ctx, &patients, query); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
