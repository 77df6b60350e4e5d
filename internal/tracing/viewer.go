package tracing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ReadEvents parses all events from a trace file. Malformed lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var events []Event
	scanner := bufio.NewScanner(f)
	// reasoning text makes for long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	return events, nil
}

// Filter returns the events for paperID. An empty paperID keeps everything.
func Filter(events []Event, paperID string) []Event {
	if paperID == "" {
		return events
	}
	var out []Event
	for _, ev := range events {
		if ev.PaperID == paperID {
			out = append(out, ev)
		}
	}
	return out
}

// RenderTimeline writes a human-readable timeline of events to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, events []Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	start := events[0].Time()
	for _, ev := range events {
		ts := formatDuration(ev.Time().Sub(start))
		switch ev.Type {
		case EventInit:
			fmt.Fprintf(w, "[%s] start  paper=%s rna=%s model=%s run=%s\n", ts, ev.PaperID, ev.RNAID, ev.ModelID, ev.RunID)
		case EventSectionChoice:
			fmt.Fprintf(w, "[%s]   section %q -> %q\n", ts, ev.Step, ev.Result)
		case EventInternal, EventFilter:
			fmt.Fprintf(w, "[%s]   %s: %s\n", ts, ev.Step, ev.Result)
			if ev.Evidence != "" {
				fmt.Fprintf(w, "           evidence: %s\n", oneLine(ev.Evidence))
			}
		case EventTerminal:
			fmt.Fprintf(w, "[%s] end    %s: %s\n", ts, ev.Step, ev.Result)
		case EventError:
			fmt.Fprintf(w, "[%s]   error at %s: %s\n", ts, ev.Step, ev.Result)
		default:
			fmt.Fprintf(w, "[%s] %s %s\n", ts, ev.Type, ev.Step)
		}
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		s = strings.ToValidUTF8(s[:117], "") + "..."
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}
