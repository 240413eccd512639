package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

type PatientService interface {
	CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
	ListPatients(ctx context.Context) ([]*model.Patient, error)
}

type Service struct {
	repo repository.PatientRepository
}

// NewService returns a patient service. A nil repo makes every call fail
// with a 503.
func NewService(repo repository.PatientRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) available() error {
	if s.repo == nil {
		return apperrors.Unavailable("Database not configured", repository.ErrNotConfigured)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error) {
	patient, err := req.ToPatient()
	if err != nil {
		return nil, err
	}
	if err := s.available(); err != nil {
		return nil, err
	}
	patient.ID = uuid.New()

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return patient, nil
}

// UpdatePatient applies the fields present in req to the stored patient.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if req.IsEmpty() {
		return nil, apperrors.BadRequest("No fields to update", nil)
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if err := req.Apply(patient); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, notFound(err)
	}
	return patient, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.available(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *Service) ListPatients(ctx context.Context) ([]*model.Patient, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	patients, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("Patient", err)
	}
	return err
}
