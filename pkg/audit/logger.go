// Package audit records operational audit events as JSON lines and
// exports the hash-chained ledger audit trail as verifiable evidence
// packs. The per-mutation trail itself lives in the store; this package
// covers the operator-facing surface around it.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an operational audit event.
type EventType string

const (
	EventAccess    EventType = "ACCESS"
	EventMutation  EventType = "MUTATION"
	EventLifecycle EventType = "LIFECYCLE"
	EventSystem    EventType = "SYSTEM"
)

// Event is one structured operational audit record.
type Event struct {
	ID         string                 `json:"id"`
	IdentityID string                 `json:"identity_id"`
	Type       EventType              `json:"type"`
	Action     string                 `json:"action"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records operational audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, identityID, action string, metadata map[string]interface{}) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(_ context.Context, eventType EventType, identityID, action string, metadata map[string]interface{}) error {
	evt := Event{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Type:       eventType,
		Action:     action,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	// Prefix keeps audit lines grep-able in mixed output.
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(line, '\n')...))
	return err
}
