package tracing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultDir    = "curation_traces"
	DefaultPrefix = "flowchart_events"
)

// Logger persists trace events.
type Logger interface {
	Log(event Event) error
	Close() error
}

// DailyLogger appends events to <dir>/<prefix>_<YYYY-MM-DD>.ndjson, moving
// to a new file when the date changes.
type DailyLogger struct {
	dir, prefix string
	now         func() time.Time

	mu   sync.Mutex
	date string
	file *os.File
	enc  *json.Encoder
}

// NewDailyLogger creates dir if needed. Empty arguments take the defaults.
func NewDailyLogger(dir, prefix string) (*DailyLogger, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	return &DailyLogger{dir: dir, prefix: prefix, now: time.Now}, nil
}

// Path returns the file events logged now would go to.
func (l *DailyLogger) Path() string {
	return l.pathFor(l.now().Format(time.DateOnly))
}

func (l *DailyLogger) pathFor(date string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_%s.ndjson", l.prefix, date))
}

// Log writes a single event as one JSON line.
func (l *DailyLogger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	date := l.now().Format(time.DateOnly)
	if l.file == nil || date != l.date {
		if l.file != nil {
			if err := l.file.Close(); err != nil {
				return fmt.Errorf("closing trace file: %w", err)
			}
		}
		f, err := os.OpenFile(l.pathFor(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			l.file = nil
			return fmt.Errorf("opening trace file: %w", err)
		}
		l.file, l.enc, l.date = f, json.NewEncoder(f), date
	}
	return l.enc.Encode(event)
}

func (l *DailyLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(Event) error { return nil }
func (NopLogger) Close() error    { return nil }

// MemoryLogger keeps events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryLogger) Log(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryLogger) Close() error { return nil }

// Events returns a copy of everything logged so far.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
