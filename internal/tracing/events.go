// Package tracing records one NDJSON event per interpreter step so a
// curation run can be audited and replayed.
package tracing

import "time"

// EventType identifies the kind of trace event.
type EventType string

const (
	EventInit          EventType = "flowchart_init"
	EventSectionChoice EventType = "flowchart_section_choice"
	EventInternal      EventType = "flowchart_internal"
	EventFilter        EventType = "flowchart_filter"
	EventTerminal      EventType = "flowchart_terminal"
	EventError         EventType = "flowchart_error"
)

// Event is a single step of a curation run.
type Event struct {
	Type           EventType `json:"type"`
	RunID          string    `json:"run_id"`
	PaperID        string    `json:"paper_id"`
	RNAID          string    `json:"rna_id,omitempty"`
	ModelID        string    `json:"model_id"`
	Date           string    `json:"date"`
	Step           string    `json:"step"`
	Evidence       string    `json:"evidence"`
	Result         string    `json:"result"`
	Reasoning      string    `json:"reasoning"`
	LoadedSections []string  `json:"loaded_sections"`
	Timestamp      float64   `json:"timestamp"`
}

// Time converts the event's Unix timestamp back to a time.Time.
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	return time.Unix(sec, int64((e.Timestamp-float64(sec))*1e9)).UTC()
}
