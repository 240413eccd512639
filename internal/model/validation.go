package model

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinAge    = 0
	MaxAge    = 120
	MinWeight = 0.5
	MaxWeight = 500
)

// ValidationError is returned for request data that fails field checks.
type ValidationError struct {
	Message  string   `json:"error"`
	Required []string `json:"required,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Required) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Required, ", "))
	}
	return e.Message
}

// MissingFields builds the error returned when required fields are absent.
func MissingFields(required ...string) *ValidationError {
	return &ValidationError{Message: "Missing required fields", Required: required}
}

func validateAge(age float64) (int, error) {
	if math.IsNaN(age) || age < MinAge || age > MaxAge {
		return 0, &ValidationError{Message: "Invalid age. Must be between 0 and 120 years."}
	}
	return int(math.Trunc(age)), nil
}

func validateWeight(weight float64) (float64, error) {
	if math.IsNaN(weight) || weight < MinWeight || weight > MaxWeight {
		return 0, &ValidationError{Message: "Invalid weight. Must be between 0.5 and 500 kg."}
	}
	return weight, nil
}

// optionalText trims s and maps an empty result to nil.
func optionalText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
