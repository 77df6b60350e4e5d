package tracing

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Tracer stamps events with a process-wide run id and the model in use
// before handing them to a [Logger]. It is safe for concurrent use when its
// Logger is.
type Tracer struct {
	logger  Logger
	runID   string
	modelID string
	now     func() time.Time
}

// NewTracer creates a tracer with a fresh run id. A nil logger discards events.
func NewTracer(logger Logger, modelID string) *Tracer {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Tracer{
		logger:  logger,
		runID:   uuid.NewString(),
		modelID: modelID,
		now:     time.Now,
	}
}

func (t *Tracer) RunID() string { return t.runID }

// Emit logs ev after filling in the run id, model id, date and timestamp.
// Failures are logged and otherwise ignored: tracing never stops a run.
func (t *Tracer) Emit(ev Event) {
	if t == nil {
		return
	}
	now := t.now()
	ev.RunID = t.runID
	ev.ModelID = t.modelID
	ev.Date = now.Format(time.DateOnly)
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(now.UnixNano()) / 1e9
	}
	if ev.LoadedSections == nil {
		ev.LoadedSections = []string{}
	}
	if err := t.logger.Log(ev); err != nil {
		slog.Warn("Failed to write trace event", "type", ev.Type, "step", ev.Step, "error", err)
	}
}

func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	return t.logger.Close()
}
