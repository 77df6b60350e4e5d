// Package flowchart loads and validates curation flowchart documents.
//
// A flowchart is a JSON object with a "nodes" map (node name to node) and a
// "startNode". Loading never yields a partially valid flowchart: every
// problem is collected into a single [validation.SchemaError].
package flowchart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/mirna-curator/curator/internal/validation"
)

// NodeType is the kind of a flowchart node.
type NodeType string

const (
	NodeDecision             NodeType = "conditional_prompt_boolean"
	NodeDecisionTool         NodeType = "conditional_tool_use"
	NodeTerminal             NodeType = "terminal_full"
	NodeTerminalShortCircuit NodeType = "terminal_short_circuit"
	NodeTerminalConditional  NodeType = "terminal_conditional"
	NodeFilter               NodeType = "filter"
)

// IsTerminal reports whether nodes of this type end a run.
func (t NodeType) IsTerminal() bool {
	switch t {
	case NodeTerminal, NodeTerminalShortCircuit, NodeTerminalConditional:
		return true
	}
	return false
}

// IsDecision reports whether nodes of this type ask a yes/no question.
func (t NodeType) IsDecision() bool {
	return t == NodeDecision || t == NodeDecisionTool
}

// NodeData holds the per-node configuration.
type NodeData struct {
	Desc         string   `json:"desc,omitempty"`
	PromptName   string   `json:"prompt_name,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	TerminalName string   `json:"terminal_name,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// Prompt returns the prompt reference, accepting the legacy "condition" key.
func (d NodeData) Prompt() string {
	if d.PromptName != "" {
		return d.PromptName
	}
	return d.Condition
}

// Transitions maps an outcome to the next node name.
type Transitions struct {
	True  string `json:"true,omitempty"`
	False string `json:"false,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Targets returns the non-empty targets in true, false, next order.
func (t *Transitions) Targets() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, name := range []string{t.True, t.False, t.Next} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Node is one named point in the flowchart.
type Node struct {
	Type        NodeType     `json:"type"`
	Data        NodeData     `json:"data"`
	Transitions *Transitions `json:"transitions,omitempty"`
}

// Flowchart is a validated flowchart document.
type Flowchart struct {
	Nodes     map[string]Node `json:"nodes"`
	StartNode string          `json:"startNode"`

	// order holds node names in document order.
	order []string
}

// NodeNames returns node names in the order they appear in the document.
func (f *Flowchart) NodeNames() []string {
	if len(f.order) == len(f.Nodes) {
		return append([]string(nil), f.order...)
	}
	names := make([]string, 0, len(f.Nodes))
	for name := range f.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var nodeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Load reads and validates a flowchart file.
func Load(path string) (*Flowchart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flowchart: %w", err)
	}
	return Parse(path, data)
}

// Parse validates a flowchart document. source is only used in error messages.
func Parse(source string, data []byte) (*Flowchart, error) {
	if problems := validation.ValidateFlowchartBytes(data); len(problems) > 0 {
		return nil, validation.NewSchemaError(source, problems)
	}

	order, dups, err := nodeOrder(data)
	if err != nil {
		return nil, validation.NewSchemaError(source, []string{err.Error()})
	}
	var problems []string
	for _, name := range dups {
		problems = append(problems, fmt.Sprintf("/nodes: duplicate node name %q", name))
	}

	var fc Flowchart
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, validation.NewSchemaError(source, []string{err.Error()})
	}
	fc.order = order

	problems = append(problems, fc.check()...)
	if err := validation.NewSchemaError(source, problems); err != nil {
		return nil, err
	}
	return &fc, nil
}

// check enforces the cross-references the JSON Schema cannot express.
func (f *Flowchart) check() []string {
	var problems []string

	if _, ok := f.Nodes[f.StartNode]; !ok {
		problems = append(problems, fmt.Sprintf("/startNode: unknown node %q", f.StartNode))
	}

	for _, name := range f.NodeNames() {
		node := f.Nodes[name]
		loc := "/nodes/" + name
		if !nodeNamePattern.MatchString(name) {
			problems = append(problems, fmt.Sprintf("%s: invalid node name", loc))
		}

		switch {
		case node.Type.IsDecision() || node.Type == NodeFilter:
			if node.Data.Prompt() == "" {
				problems = append(problems, fmt.Sprintf("%s/data: %s node requires prompt_name", loc, node.Type))
			}
			if node.Type == NodeDecisionTool && len(node.Data.Tools) == 0 {
				problems = append(problems, fmt.Sprintf("%s/data: %s node requires tools", loc, node.Type))
			}
		case node.Type.IsTerminal():
			if node.Data.TerminalName == "" {
				problems = append(problems, fmt.Sprintf("%s/data: %s node requires terminal_name", loc, node.Type))
			}
		}

		for _, target := range node.Transitions.Targets() {
			if _, ok := f.Nodes[target]; !ok {
				problems = append(problems, fmt.Sprintf("%s/transitions: unknown target node %q", loc, target))
			}
		}
	}
	return problems
}

// nodeOrder walks the raw token stream of the "nodes" object, returning the
// node names in document order and any names that appear more than once.
func nodeOrder(data []byte) (order []string, dups []string, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		if key != "nodes" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, nil, err
			}
			continue
		}
		if _, err := dec.Token(); err != nil {
			return nil, nil, err
		}
		seen := map[string]bool{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, nil, err
			}
			name, _ := tok.(string)
			if seen[name] {
				dups = append(dups, name)
			} else {
				seen[name] = true
				order = append(order, name)
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, nil, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, nil, err
		}
	}
	return order, dups, nil
}
