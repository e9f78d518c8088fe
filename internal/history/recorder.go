package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
	"metricwatch/internal/storage"
)

// Document is the persisted layout: metric name to its observations, oldest first
type Document map[string][]models.Observation

// Recorder keeps the full observation history in memory and rewrites it to
// the backing store after every append. A failed save does not drop anything;
// the entries are included in the next successful save.
type Recorder struct {
	mu    sync.RWMutex
	store storage.DocumentStore
	doc   Document
}

// NewRecorder creates a recorder over store
func NewRecorder(store storage.DocumentStore) *Recorder {
	return &Recorder{
		store: store,
		doc:   make(Document),
	}
}

// Reset clears the in-memory history and the backing store
func (r *Recorder) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.doc = make(Document)
	r.mu.Unlock()

	if err := r.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// Record appends one observation per metric and persists the whole document
func (r *Recorder) Record(ctx context.Context, observations []models.NamedObservation) error {
	r.mu.Lock()
	for _, o := range observations {
		r.doc[o.Metric] = append(r.doc[o.Metric], o.Observation)
	}
	payload, err := json.Marshal(r.doc)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	start := time.Now()
	err = r.store.Save(ctx, payload)
	metrics.HistoryPersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HistoryPersistFailures.Inc()
		return fmt.Errorf("persist history: %w", err)
	}
	metrics.HistoryBytes.Set(float64(len(payload)))
	return nil
}

// Document returns the current history as JSON
func (r *Recorder) Document() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(r.doc)
}

// Read loads a persisted document from store. A store that was never
// written yields an empty document.
func Read(ctx context.Context, store storage.DocumentStore) (Document, error) {
	b, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	doc := Document{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return doc, nil
}

// Names returns the document's metric names, sorted
func (d Document) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
