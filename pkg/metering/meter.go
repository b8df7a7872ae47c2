// Package metering provides per-source usage tracking for the karmic
// pipeline. It counts ingested events, committed mutations, lifecycle
// transitions, and rejections, aggregated by emitting source.
package metering

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmptySource is returned when a metering event has no source.
	ErrEmptySource = errors.New("metering: source must not be empty")
	// ErrNegativeQuantity is returned when a metering event has a negative quantity.
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	// ErrInvalidEventType is returned when the event type is empty.
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
)

// EventType defines the type of metered event.
type EventType string

const (
	EventIngestion  EventType = "ingestion"
	EventMutation   EventType = "mutation"
	EventTransition EventType = "transition"
	EventStatsRead  EventType = "stats_read"
	EventRejection  EventType = "rejection"
	EventRateLimit  EventType = "rate_limit"
)

// Event represents a single metered usage event.
type Event struct {
	Source     string         `json:"source"`
	IdentityID string         `json:"identity_id,omitempty"`
	EventType  EventType      `json:"event_type"`
	Quantity   int64          `json:"quantity"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the event has valid fields.
func (e Event) Validate() error {
	if e.Source == "" {
		return ErrEmptySource
	}
	if e.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	return nil
}

// Period defines a time range for usage aggregation.
type Period struct {
	Start time.Time
	End   time.Time
}

// DailyPeriod returns a Period for the current day.
func DailyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.Add(24 * time.Hour)}
}

// MonthlyPeriod returns a Period for the current month.
func MonthlyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Usage contains aggregated usage for a source.
type Usage struct {
	Source     string
	Period     Period
	Totals     map[EventType]int64
	LastUpdate time.Time
}

// Meter is the interface for recording and querying usage.
type Meter interface {
	// Record stores a usage event.
	Record(ctx context.Context, event Event) error

	// RecordBatch stores multiple events atomically.
	RecordBatch(ctx context.Context, events []Event) error

	// GetUsage retrieves aggregated usage for a source in a period.
	GetUsage(ctx context.Context, source string, period Period) (*Usage, error)

	// GetUsageByType retrieves usage for a specific event type.
	GetUsageByType(ctx context.Context, source string, eventType EventType, period Period) (int64, error)
}

// MemoryMeter is an in-process Meter for tests and single-node runs.
type MemoryMeter struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{}
}

func (m *MemoryMeter) Record(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *MemoryMeter) RecordBatch(_ context.Context, events []Event) error {
	now := time.Now().UTC()
	stamped := make([]Event, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		stamped = append(stamped, e)
	}
	m.mu.Lock()
	m.events = append(m.events, stamped...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryMeter) GetUsage(_ context.Context, source string, period Period) (*Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := &Usage{
		Source:     source,
		Period:     period,
		Totals:     make(map[EventType]int64),
		LastUpdate: time.Now().UTC(),
	}
	for _, e := range m.events {
		if e.Source == source && inPeriod(e.Timestamp, period) {
			usage.Totals[e.EventType] += e.Quantity
		}
	}
	return usage, nil
}

func (m *MemoryMeter) GetUsageByType(_ context.Context, source string, eventType EventType, period Period) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.events {
		if e.Source == source && e.EventType == eventType && inPeriod(e.Timestamp, period) {
			total += e.Quantity
		}
	}
	return total, nil
}

func inPeriod(ts time.Time, p Period) bool {
	if !p.Start.IsZero() && ts.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !ts.Before(p.End) {
		return false
	}
	return true
}
