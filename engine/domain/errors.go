package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrAmbiguousAlias is returned when fuzzy matching finds multiple
	// candidates within the tie margin of each other. Recoverable; the
	// caller decides whether to create a new entity or escalate.
	ErrAmbiguousAlias = errors.New("ambiguous alias")

	// ErrInvalidEdge marks a self-loop or malformed relationship candidate.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrUnknownEquipment marks a lookup on a tag or id that resolves to
	// no canonical entity.
	ErrUnknownEquipment = errors.New("unknown equipment")

	// ErrScopeViolation marks a cross-project equipment reference. Fatal to
	// the single request, never to the engine.
	ErrScopeViolation = errors.New("cross-project scope violation")

	// ErrEdgeDowngradeRejected reports that an upsert carried lower
	// confidence than the stored edge. A normal provenance-ranking outcome,
	// not a failure.
	ErrEdgeDowngradeRejected = errors.New("edge confidence downgrade rejected")

	// ErrDuplicateAlias marks an attempt to create a canonical entity whose
	// tag normalizes to an alias already owned by another entity.
	ErrDuplicateAlias = errors.New("alias already registered")

	ErrUnknownProject = errors.New("unknown project")
	ErrInvalidFact    = errors.New("invalid fact payload")
	ErrInvalidBatch   = errors.New("invalid ingestion batch")
)

// ScopeError wraps ErrScopeViolation with the offending reference.
type ScopeError struct {
	Project     string
	EquipmentID string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope violation: equipment %s is not in project %s", e.EquipmentID, e.Project)
}

func (e *ScopeError) Unwrap() error { return ErrScopeViolation }

// AliasCandidate is one scored match considered during fuzzy resolution.
type AliasCandidate struct {
	EquipmentID string
	Tag         string
	Score       float64
}

// AmbiguityError wraps ErrAmbiguousAlias with the tied candidates.
type AmbiguityError struct {
	RawTag     string
	Candidates []AliasCandidate
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous alias: %q matches %d candidates within tie margin", e.RawTag, len(e.Candidates))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousAlias }

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
