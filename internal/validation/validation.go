// Package validation provides input validation shared by the supervisor,
// agents, and ingestion paths.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation utilities
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// MaxLength validates maximum string length
func (v *Validator) MaxLength(field, value string, max int) {
	if len(value) > max {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// UnitRange validates that a number lies in [0, 1]
func (v *Validator) UnitRange(field string, value float64) {
	if value < 0 || value > 1 {
		v.AddError(field, "must be between 0 and 1")
	}
}

// NonNegative validates that a number is non-negative
func (v *Validator) NonNegative(field string, value float64) {
	if value < 0 {
		v.AddError(field, "must be non-negative")
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

const maxTickerLength = 10

var tickerRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Ticker validates a stock ticker symbol: non-empty, alphanumeric, at most
// ten characters.
func (v *Validator) Ticker(field, value string) {
	v.Required(field, value)
	if v.HasErrors() {
		return
	}
	v.MaxLength(field, value, maxTickerLength)
	if !tickerRegex.MatchString(value) {
		v.AddError(field, "must contain only alphanumeric characters")
	}
}

// ValidTicker reports whether a ticker symbol is acceptable to the analysis
// core.
func ValidTicker(ticker string) bool {
	v := NewValidator()
	v.Ticker("ticker", ticker)
	return !v.HasErrors()
}

// SnapshotValidator validates ingested news snapshots
type SnapshotValidator struct {
	*Validator
}

// NewSnapshotValidator creates a validator for news snapshot ingestion
func NewSnapshotValidator() *SnapshotValidator {
	return &SnapshotValidator{
		Validator: NewValidator(),
	}
}

// ValidateCategory validates the snapshot category label
func (v *SnapshotValidator) ValidateCategory(category string) {
	v.Required("category", category)
	if v.HasErrors() {
		return
	}
	v.MaxLength("category", category, 64)
}

// ValidateImpact validates the five-level news impact value
func (v *SnapshotValidator) ValidateImpact(impact string) {
	v.Required("impact", impact)
	if v.HasErrors() {
		return
	}
	v.OneOf("impact", impact, []string{
		"very_negative", "negative", "neutral", "positive", "very_positive",
	})
}
