package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"time"

	"metricwatch/internal/models"
)

// Snapshot errors
var (
	ErrTargetNotFound = errors.New("target not found in snapshot aliases")
	// ErrNoSamples also matches ErrTargetNotFound
	ErrNoSamples = fmt.Errorf("%w: no samples", ErrTargetNotFound)
)

// Container is one entry of a snapshot: the names it is known by and its
// time-ordered samples, oldest first.
type Container struct {
	Aliases []string `json:"aliases"`
	Stats   []*Node  `json:"stats"`
}

// Snapshot is the metrics document for the monitored target at one moment,
// keyed by container identifier.
type Snapshot struct {
	Containers map[string]Container
	FetchedAt  time.Time
}

// Parse decodes a snapshot document
func Parse(r io.Reader) (*Snapshot, error) {
	var containers map[string]Container
	if err := json.NewDecoder(r).Decode(&containers); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &Snapshot{
		Containers: containers,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Container returns the first container, in key order, whose aliases contain target
func (s *Snapshot) Container(target string) (*Container, error) {
	keys := make([]string, 0, len(s.Containers))
	for k := range s.Containers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		c := s.Containers[k]
		if slices.Contains(c.Aliases, target) {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
}

// Latest returns the most recent sample for target
func (s *Snapshot) Latest(target string) (*Node, error) {
	c, err := s.Container(target)
	if err != nil {
		return nil, err
	}
	if len(c.Stats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, target)
	}
	return c.Stats[len(c.Stats)-1], nil
}

// Extract reads def's value from the latest sample for target. Only a
// missing target, a missing path segment or a non-numeric leaf make the
// metric unavailable. The sample timestamp is best effort: it is zero when
// the sample has none or it cannot be parsed.
func Extract(s *Snapshot, target string, def models.MetricDefinition) (models.Number, time.Time, error) {
	sample, err := s.Latest(target)
	if err != nil {
		return models.Number{}, time.Time{}, err
	}

	leaf, err := sample.Lookup(append([]string{def.Area}, def.Path...)...)
	if err != nil {
		return models.Number{}, time.Time{}, err
	}
	v, ok := leaf.Number()
	if !ok {
		return models.Number{}, time.Time{}, fmt.Errorf("%w: %s is %s", ErrNotNumeric, def.FieldPath(), leaf.Kind())
	}

	ts, _ := SampleTime(sample)
	return v, ts, nil
}

// SampleTime reads a sample's "timestamp" field. Strings go through
// models.ParseTimestamp; numbers are taken as Unix seconds.
func SampleTime(sample *Node) (time.Time, error) {
	node, ok := sample.Field("timestamp")
	if !ok {
		return time.Time{}, fmt.Errorf("sample has no timestamp: %w", models.ErrInvalidTimestamp)
	}
	if n, ok := node.Number(); ok {
		return models.UnixTime(n.Float64()), nil
	}
	raw, ok := node.Text()
	if !ok {
		return time.Time{}, fmt.Errorf("sample timestamp is %s: %w", node.Kind(), models.ErrInvalidTimestamp)
	}
	return models.ParseTimestamp(raw)
}
