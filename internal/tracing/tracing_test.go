package tracing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	logger, err := NewDailyLogger(dir, "")
	require.NoError(t, err)

	day := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	logger.now = func() time.Time { return day }

	require.NoError(t, logger.Log(Event{Type: EventInit, PaperID: "PMC1"}))
	require.NoError(t, logger.Log(Event{Type: EventInternal, PaperID: "PMC1", Step: "A"}))
	require.Equal(t, filepath.Join(dir, "flowchart_events_2025-03-14.ndjson"), logger.Path())

	day = day.Add(2 * time.Minute)
	require.NoError(t, logger.Log(Event{Type: EventTerminal, PaperID: "PMC1"}))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	first, err := ReadEvents(filepath.Join(dir, "flowchart_events_2025-03-14.ndjson"))
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "A", first[1].Step)

	second, err := ReadEvents(filepath.Join(dir, "flowchart_events_2025-03-15.ndjson"))
	require.NoError(t, err)
	require.Len(t, second, 1)
}

func TestTracer(t *testing.T) {
	mem := &MemoryLogger{}
	tracer := NewTracer(mem, "gpt-4.1")
	tracer.now = func() time.Time { return time.Unix(1700000000, 500_000_000).UTC() }

	tracer.Emit(Event{Type: EventInternal, PaperID: "PMC1", RNAID: "miR-21", Step: "A", Result: "yes"})
	events := mem.Events()
	require.Len(t, events, 1)

	ev := events[0]
	_, err := uuid.Parse(ev.RunID)
	require.NoError(t, err)
	assert.Equal(t, tracer.RunID(), ev.RunID)
	assert.Equal(t, "gpt-4.1", ev.ModelID)
	assert.Equal(t, "2023-11-14", ev.Date)
	assert.Equal(t, 1700000000.5, ev.Timestamp)
	assert.Equal(t, []string{}, ev.LoadedSections)
	assert.Equal(t, time.Unix(1700000000, 500_000_000).UTC(), ev.Time())

	var nilTracer *Tracer
	nilTracer.Emit(Event{})
	require.NoError(t, nilTracer.Close())
}

func TestReadEvents_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.ndjson")
	data := `{"type":"flowchart_init","paper_id":"PMC1"}
not json

{"type":"flowchart_internal","paper_id":"PMC2","step":"A"}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Len(t, Filter(events, "PMC2"), 1)
	require.Len(t, Filter(events, ""), 2)

	_, err = ReadEvents(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestRenderTimeline(t *testing.T) {
	var buf bytes.Buffer
	RenderTimeline(&buf, nil)
	require.Equal(t, "No events found.\n", buf.String())

	buf.Reset()
	RenderTimeline(&buf, []Event{
		{Type: EventInit, PaperID: "PMC1", RNAID: "miR-21", Timestamp: 100},
		{Type: EventInternal, Step: "A", Result: "yes", Evidence: "binds\nPTEN", Timestamp: 100.25},
		{Type: EventTerminal, Step: "T2", Result: "PTEN", Timestamp: 102},
	})
	out := buf.String()
	require.Contains(t, out, "paper=PMC1 rna=miR-21")
	require.Contains(t, out, "   250ms]   A: yes")
	require.Contains(t, out, "evidence: binds PTEN")
	require.Contains(t, out, "   2.0s] end    T2: PTEN")
}
