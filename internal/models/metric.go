package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Comparator selects the direction of a threshold check
type Comparator string

const (
	GreaterThan Comparator = "greater-than"
	LessThan    Comparator = "less-than"
)

// Validation errors
var (
	ErrEmptyName         = errors.New("metric name cannot be empty")
	ErrEmptyArea         = errors.New("metric area cannot be empty")
	ErrEmptyPath         = errors.New("metric path cannot be empty")
	ErrEmptyPathSegment  = errors.New("metric path segment cannot be empty")
	ErrInvalidComparator = errors.New("invalid comparator")
	ErrNonPositiveWindow = errors.New("metric window must be positive")
	ErrDuplicateName     = errors.New("duplicate metric name")
	ErrNoMetrics         = errors.New("at least one metric must be configured")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrTooManyMetrics    = errors.New("too many metrics configured")
)

// MaxMetrics bounds the configured metric set
const MaxMetrics = 1024

// ParseComparator accepts the canonical names plus the "bigger"/"lower" and
// ">"/"<" spellings.
func ParseComparator(s string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "greater-than", "greater_than", "bigger", "gt", ">":
		return GreaterThan, nil
	case "less-than", "less_than", "lower", "lt", "<":
		return LessThan, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidComparator, s)
}

// IsValid checks if the comparator is one of the canonical values
func (c Comparator) IsValid() bool {
	switch c {
	case GreaterThan, LessThan:
		return true
	default:
		return false
	}
}

// MetricDefinition describes how to read one metric out of a snapshot and
// when it counts as breached. It is immutable once loaded.
type MetricDefinition struct {
	// Unique metric name
	Name string `json:"name"`

	// Top-level section of the sample to read, e.g. "cpu"
	Area string `json:"area"`

	// Field names to traverse inside Area to reach the scalar
	Path []string `json:"path"`

	Threshold  Number        `json:"threshold"`
	Comparator Comparator    `json:"comparator"`
	Window     time.Duration `json:"window"`
}

// Validate checks the definition's fields
func (d *MetricDefinition) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}

	if d.Area == "" {
		return fmt.Errorf("%s: %w", d.Name, ErrEmptyArea)
	}

	if len(d.Path) == 0 {
		return fmt.Errorf("%s: %w", d.Name, ErrEmptyPath)
	}

	for i, seg := range d.Path {
		if seg == "" {
			return fmt.Errorf("%s: %w at index %d", d.Name, ErrEmptyPathSegment, i)
		}
	}

	if !d.Comparator.IsValid() {
		return fmt.Errorf("%s: %w: %q", d.Name, ErrInvalidComparator, d.Comparator)
	}

	if d.Window <= 0 {
		return fmt.Errorf("%s: %w", d.Name, ErrNonPositiveWindow)
	}

	return nil
}

// FieldPath returns the dotted area/path string used in logs
func (d *MetricDefinition) FieldPath() string {
	return d.Area + "." + strings.Join(d.Path, ".")
}

// ValidateDefinitions validates every definition and checks names are unique
func ValidateDefinitions(defs []MetricDefinition) error {
	if len(defs) == 0 {
		return ErrNoMetrics
	}
	if len(defs) > MaxMetrics {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMetrics, len(defs), MaxMetrics)
	}

	seen := make(map[string]struct{}, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[defs[i].Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateName, defs[i].Name)
		}
		seen[defs[i].Name] = struct{}{}
	}
	return nil
}
