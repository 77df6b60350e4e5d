// Package prompts loads the prompt library used by flowchart nodes.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mirna-curator/curator/internal/validation"
)

// NoAnnotation is the terminal name that ends a run without an annotation.
const NoAnnotation = "no_annotation"

// Type tags a prompt with the node kind it was written for.
type Type string

const (
	TypeConditionBoolean     Type = "condition_prompt_boolean"
	TypeTerminalShortCircuit Type = "terminal_short_circuit"
	TypeTerminalFull         Type = "terminal_full"
	TypeTerminalBPOnly       Type = "terminal_bp_only"
	TypeTerminalConditional  Type = "terminal_conditional"
	TypeFilter               Type = "filter"
)

// Prompt is a named question, optionally bound to an article section.
// Terminal prompts also name the annotation they produce and the detector
// that extracts the regulated entity.
type Prompt struct {
	Name          string `json:"name"`
	Type          Type   `json:"type"`
	Prompt        string `json:"prompt"`
	TargetSection string `json:"target_section,omitempty"`
	Annotation    string `json:"annotation,omitempty"`
	Detector      string `json:"detector,omitempty"`
}

// AnnotationLabel is the semantic label produced when a run ends at this
// prompt's terminal.
func (p *Prompt) AnnotationLabel() string {
	if p.Annotation != "" {
		return p.Annotation
	}
	return p.Name
}

// Detector is a terminal-node prompt that extracts a named entity.
type Detector struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// Library is an immutable, name-indexed collection of prompts and detectors.
type Library struct {
	prompts   []Prompt
	detectors []Detector

	promptIndex   map[string]int
	detectorIndex map[string]int
}

type document struct {
	Prompts   []Prompt   `json:"prompts"`
	Detector  *Detector  `json:"detector,omitempty"`
	Detectors []Detector `json:"detectors,omitempty"`
}

// Load reads and validates a prompt library file.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}
	return Parse(path, data)
}

// Parse validates a prompt library document. Both the singular "detector"
// and the list form "detectors" are accepted.
func Parse(source string, data []byte) (*Library, error) {
	if problems := validation.ValidatePromptsBytes(data); len(problems) > 0 {
		return nil, validation.NewSchemaError(source, problems)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, validation.NewSchemaError(source, []string{err.Error()})
	}

	detectors := doc.Detectors
	if doc.Detector != nil {
		detectors = append([]Detector{*doc.Detector}, detectors...)
	}

	lib, problems := build(doc.Prompts, detectors)
	if err := validation.NewSchemaError(source, problems); err != nil {
		return nil, err
	}
	return lib, nil
}

// New builds a library from already-typed values, applying the same checks
// as [Parse].
func New(prompts []Prompt, detectors []Detector) (*Library, error) {
	lib, problems := build(prompts, detectors)
	if err := validation.NewSchemaError("prompt library", problems); err != nil {
		return nil, err
	}
	return lib, nil
}

func build(prompts []Prompt, detectors []Detector) (*Library, []string) {
	lib := &Library{
		prompts:       append([]Prompt(nil), prompts...),
		detectors:     append([]Detector(nil), detectors...),
		promptIndex:   make(map[string]int, len(prompts)),
		detectorIndex: make(map[string]int, len(detectors)),
	}

	var problems []string
	if len(detectors) == 0 {
		problems = append(problems, "at least one detector is required")
	}
	for i, p := range lib.prompts {
		if _, dup := lib.promptIndex[p.Name]; dup {
			problems = append(problems, fmt.Sprintf("/prompts/%d: duplicate prompt name %q", i, p.Name))
			continue
		}
		lib.promptIndex[p.Name] = i
	}
	for i, d := range lib.detectors {
		if _, dup := lib.detectorIndex[d.Name]; dup {
			problems = append(problems, fmt.Sprintf("/detectors/%d: duplicate detector name %q", i, d.Name))
			continue
		}
		lib.detectorIndex[d.Name] = i
	}
	for i, p := range lib.prompts {
		if p.Detector == "" {
			continue
		}
		if _, ok := lib.detectorIndex[p.Detector]; !ok {
			problems = append(problems, fmt.Sprintf("/prompts/%d: unknown detector %q", i, p.Detector))
		}
	}
	return lib, problems
}

// Prompt looks up a prompt by name.
func (l *Library) Prompt(name string) (*Prompt, bool) {
	i, ok := l.promptIndex[name]
	if !ok {
		return nil, false
	}
	return &l.prompts[i], true
}

// Detector looks up a detector by name.
func (l *Library) Detector(name string) (*Detector, bool) {
	i, ok := l.detectorIndex[name]
	if !ok {
		return nil, false
	}
	return &l.detectors[i], true
}

// DetectorFor returns the detector a terminal prompt uses. Prompts that do
// not name one fall back to the library's only detector.
func (l *Library) DetectorFor(p *Prompt) (*Detector, bool) {
	if p.Detector != "" {
		return l.Detector(p.Detector)
	}
	if len(l.detectors) == 1 {
		return &l.detectors[0], true
	}
	return nil, false
}

// Prompts returns the prompts in document order.
func (l *Library) Prompts() []Prompt {
	return append([]Prompt(nil), l.prompts...)
}

// Detectors returns the detectors in document order.
func (l *Library) Detectors() []Detector {
	return append([]Detector(nil), l.detectors...)
}
