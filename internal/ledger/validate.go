package ledger

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// splitTolerance is how far split ratios may sum away from one.
const splitTolerance = 0.001

// ValidationErrorType classifies a validation failure.
type ValidationErrorType string

const (
	MissingField     ValidationErrorType = "missing_field"
	InvalidFormat    ValidationErrorType = "invalid_format"
	InvalidReference ValidationErrorType = "invalid_reference"
	InvalidValue     ValidationErrorType = "invalid_value"
	DuplicateValue   ValidationErrorType = "duplicate_value"
	SumMismatch      ValidationErrorType = "sum_mismatch"
)

// ValidationError is a single failed check on a field.
type ValidationError struct {
	Field   string              `json:"field"`
	Message string              `json:"message"`
	Type    ValidationErrorType `json:"type"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult collects every failed check.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether no check failed.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid result, otherwise an error listing all failures.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i := range r.Errors {
		msgs[i] = r.Errors[i].Error()
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

func (r *ValidationResult) add(field string, typ ValidationErrorType, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Type: typ})
}

func (r *ValidationResult) addErr(err *ValidationError) {
	if err != nil {
		r.Errors = append(r.Errors, *err)
	}
}

// ValidateGroup checks that the group has entities with unique IDs and
// non-empty names.
func ValidateGroup(g Group) ValidationResult {
	var r ValidationResult
	if len(g.Entities) == 0 {
		r.add("entities", MissingField, "group has no entities")
	}
	seen := make(map[uuid.UUID]bool, len(g.Entities))
	for i, e := range g.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		if e.ID == uuid.Nil {
			r.add(field+".id", MissingField, "entity id is required")
		} else if seen[e.ID] {
			r.add(field+".id", DuplicateValue, "duplicate entity id %s", e.ID)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.DisplayName) == "" {
			r.add(field+".display_name", MissingField, "display name is required")
		}
	}
	return r
}

// ValidateLedger checks ledger metadata against the group.
func ValidateLedger(l Ledger, g Group) ValidationResult {
	var r ValidationResult
	if l.ID == uuid.Nil {
		r.add("id", MissingField, "ledger id is required")
	}
	if strings.TrimSpace(l.DisplayName) == "" {
		r.add("display_name", MissingField, "display name is required")
	}
	if len(l.Participants) == 0 {
		r.add("participants", MissingField, "ledger has no participants")
	}
	for i, p := range l.Participants {
		if err := ValidateEntityReference(p, g); err != nil {
			err.Field = fmt.Sprintf("participants[%d]", i)
			r.addErr(err)
		}
	}
	return r
}

// ValidateTransaction checks a transaction against its ledger and group.
func ValidateTransaction(tx Transaction, l Ledger, g Group) ValidationResult {
	var r ValidationResult
	if tx.ID == uuid.Nil {
		r.add("id", MissingField, "transaction id is required")
	}
	if strings.TrimSpace(tx.Description) == "" {
		r.add("description", MissingField, "description is required")
	}
	if tx.Amount <= 0 || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		r.add("amount", InvalidValue, "amount must be positive, got %v", tx.Amount)
	}
	if tx.Time.IsZero() {
		r.add("transaction_datetime_rfc_3339", MissingField, "datetime is required")
	}
	if err := ValidateCurrency(tx.Currency); err != nil {
		r.addErr(err)
	}

	checkMember := func(field string, id uuid.UUID) {
		if err := ValidateEntityReference(id, g); err != nil {
			err.Field = field
			r.addErr(err)
			return
		}
		if !l.HasParticipant(id) {
			r.add(field, InvalidReference, "entity %s is not a participant of ledger %q", id, l.DisplayName)
		}
	}
	checkMember("paid_by_entity", tx.PaidBy)

	if len(tx.Splits) == 0 {
		r.add("split_ratios", MissingField, "transaction has no splits")
	}
	for i, s := range tx.Splits {
		field := fmt.Sprintf("split_ratios[%d]", i)
		checkMember(field+".entity_id", s.EntityID)
		if s.Ratio.Sign() <= 0 {
			r.add(field+".ratio", InvalidValue, "ratio must be positive, got %s", s.Ratio)
		}
	}
	if len(tx.Splits) > 0 {
		r.addErr(ValidateSplitRatios(tx.Splits))
	}
	return r
}

// ValidateEntityReference checks that id names a group member.
func ValidateEntityReference(id uuid.UUID, g Group) *ValidationError {
	if _, ok := g.Entity(id); !ok {
		return &ValidationError{
			Field:   "entity_id",
			Message: fmt.Sprintf("entity %s is not a member of the group", id),
			Type:    InvalidReference,
		}
	}
	return nil
}

// ValidateCurrency checks for a three-letter upper-case ISO 4217 code.
func ValidateCurrency(code string) *ValidationError {
	valid := len(code) == 3
	for i := 0; valid && i < len(code); i++ {
		valid = code[i] >= 'A' && code[i] <= 'Z'
	}
	if !valid {
		return &ValidationError{
			Field:   "currency_iso_4217",
			Message: fmt.Sprintf("invalid ISO 4217 currency code %q", code),
			Type:    InvalidFormat,
		}
	}
	return nil
}

// ValidateSplitRatios checks that ratios sum to one within tolerance.
func ValidateSplitRatios(splits []Split) *ValidationError {
	total := new(big.Rat)
	for _, s := range splits {
		total.Add(total, s.Ratio.Rat())
	}
	sum, _ := total.Float64()
	if math.Abs(sum-1) > splitTolerance {
		return &ValidationError{
			Field:   "split_ratios",
			Message: fmt.Sprintf("split ratios sum to %s, want 1", total.RatString()),
			Type:    SumMismatch,
		}
	}
	return nil
}
