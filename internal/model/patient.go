package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jmoiron/sqlx/types"
)

type Patient struct {
	Base
	FullName    string          `db:"full_name" json:"full_name"`
	Age         int             `db:"age" json:"age"`
	Sex         string          `db:"sex" json:"sex"`
	Weight      float64         `db:"weight" json:"weight"`
	Allergies   *string         `db:"allergies" json:"allergies"`
	ContactInfo *types.JSONText `db:"contact_info" json:"contact_info"`
}

type CreatePatientRequest struct {
	FullName    string          `json:"fullName" binding:"required"`
	Age         *float64        `json:"age" binding:"required"`
	Sex         string          `json:"sex" binding:"required"`
	Weight      *float64        `json:"weight" binding:"required"`
	Allergies   *string         `json:"allergies"`
	ContactInfo json.RawMessage `json:"contactInfo"`
}

// PatientRequiredFields lists the fields reported when any are missing.
var PatientRequiredFields = []string{"fullName", "age", "sex", "weight"}

// ToPatient validates the request and builds a new, unsaved patient.
func (r *CreatePatientRequest) ToPatient() (*Patient, error) {
	p := &Patient{
		FullName:    strings.TrimSpace(r.FullName),
		Sex:         strings.ToLower(strings.TrimSpace(r.Sex)),
		Allergies:   optionalText(r.Allergies),
		ContactInfo: jsonText(r.ContactInfo),
	}
	if p.FullName == "" || p.Sex == "" || r.Age == nil || r.Weight == nil {
		return nil, MissingFields(PatientRequiredFields...)
	}

	var err error
	if p.Age, err = validateAge(*r.Age); err != nil {
		return nil, err
	}
	if p.Weight, err = validateWeight(*r.Weight); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePatientRequest is a partial update; absent fields are left unchanged.
// An explicit null contactInfo or an empty allergies string clears the column.
type UpdatePatientRequest struct {
	FullName    *string         `json:"fullName"`
	Age         *float64        `json:"age"`
	Sex         *string         `json:"sex"`
	Weight      *float64        `json:"weight"`
	Allergies   *string         `json:"allergies"`
	ContactInfo json.RawMessage `json:"contactInfo"`
}

// Apply validates the present fields and copies them onto p.
func (r *UpdatePatientRequest) Apply(p *Patient) error {
	if r.FullName != nil {
		name := strings.TrimSpace(*r.FullName)
		if name == "" {
			return &ValidationError{Message: "fullName cannot be empty"}
		}
		p.FullName = name
	}
	if r.Sex != nil {
		sex := strings.ToLower(strings.TrimSpace(*r.Sex))
		if sex == "" {
			return &ValidationError{Message: "sex cannot be empty"}
		}
		p.Sex = sex
	}
	if r.Age != nil {
		age, err := validateAge(*r.Age)
		if err != nil {
			return err
		}
		p.Age = age
	}
	if r.Weight != nil {
		weight, err := validateWeight(*r.Weight)
		if err != nil {
			return err
		}
		p.Weight = weight
	}
	if r.Allergies != nil {
		p.Allergies = optionalText(r.Allergies)
	}
	if r.ContactInfo != nil {
		p.ContactInfo = jsonText(r.ContactInfo)
	}
	return nil
}

// IsEmpty reports whether the request changes nothing.
func (r *UpdatePatientRequest) IsEmpty() bool {
	return r.FullName == nil && r.Age == nil && r.Sex == nil && r.Weight == nil &&
		r.Allergies == nil && r.ContactInfo == nil
}

func jsonText(raw json.RawMessage) *types.JSONText {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	t := types.JSONText(append([]byte(nil), raw...))
	return &t
}
