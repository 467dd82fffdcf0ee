// Package audit records settled GraphQL operations as JSON lines.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/events"
)

// ErrNilWriter is returned by Journal.Record when the journal was
// constructed with a nil writer.
var ErrNilWriter = errors.New("audit journal: writer is nil")

// Entry captures one settled operation or closed stream.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Type      string        `json:"type"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Emissions int           `json:"emissions,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Journal writes Entry records as newline-delimited JSON to an io.Writer.
// It is safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewJournal returns a Journal that writes to w. If w is nil the returned
// journal is also nil; Record on a nil journal returns ErrNilWriter.
func NewJournal(w io.Writer) *Journal {
	if w == nil {
		return nil
	}
	return &Journal{w: w, now: time.Now}
}

// Record serialises entry as a single JSON line.
func (j *Journal) Record(entry Entry) error {
	if j == nil || j.w == nil {
		return ErrNilWriter
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	j.mu.Lock()
	_, err = j.w.Write(data)
	j.mu.Unlock()
	return err
}

// Attach records every OperationFinish and StreamClosed event published on
// bus. Write failures are passed to onError when it is non-nil.
func Attach(bus *eventbus.Bus, j *Journal, onError func(error)) (detach func()) {
	if j == nil {
		return func() {}
	}
	record := func(e Entry) {
		if err := j.Record(e); err != nil && onError != nil {
			onError(err)
		}
	}
	unsubOp := eventbus.On(bus, func(_ context.Context, e events.OperationFinish) {
		entry := Entry{
			Timestamp: j.now().Add(-e.Duration),
			ID:        e.ID,
			Operation: e.OperationName,
			Type:      e.OperationType,
			Outcome:   e.Outcome,
			Duration:  e.Duration,
		}
		if e.Err != nil {
			entry.Error = e.Err.Error()
		}
		record(entry)
	})
	unsubStream := eventbus.On(bus, func(_ context.Context, e events.StreamClosed) {
		record(Entry{
			Timestamp: j.now().Add(-e.Duration),
			ID:        e.ID,
			Operation: e.OperationName,
			Type:      e.OperationType,
			Outcome:   "closed",
			Emissions: e.Emissions,
			Duration:  e.Duration,
		})
	})
	return func() {
		unsubOp()
		unsubStream()
	}
}
