// Package curation walks a flowchart over one article and assembles the
// curation result.
package curation

import (
	"fmt"

	"github.com/mirna-curator/curator/internal/evaluators"
	"github.com/mirna-curator/curator/internal/flowchart"
	"github.com/mirna-curator/curator/internal/prompts"
	"github.com/mirna-curator/curator/internal/tools"
	"github.com/mirna-curator/curator/internal/validation"
)

// Node is a flowchart node with its references resolved.
type Node struct {
	Name string
	Type flowchart.NodeType
	Desc string

	// Prompt is the question for decision and filter nodes and the terminal
	// prompt for terminal nodes. It is nil for a no_annotation terminal that
	// has no library entry.
	Prompt   *prompts.Prompt
	Detector *prompts.Detector

	// TerminalName is the terminal_name of terminal nodes.
	TerminalName string

	Evaluator evaluators.Evaluator

	True, False, Next *Node
}

func (n *Node) IsTerminal() bool { return n.Type.IsTerminal() }

// NoAnnotation reports whether reaching n ends the run without an annotation.
func (n *Node) NoAnnotation() bool {
	return n.IsTerminal() && n.TerminalName == prompts.NoAnnotation
}

// Transition returns the node that follows outcome: the matching boolean
// transition, then next. It returns nil when the flowchart has neither.
func (n *Node) Transition(outcome bool) *Node {
	target := n.False
	if outcome {
		target = n.True
	}
	if target == nil {
		target = n.Next
	}
	return target
}

// Graph is an immutable, fully linked flowchart.
type Graph struct {
	nodes map[string]*Node
	order []string
	start *Node
}

// GraphOptions supply what evaluators need at construction time.
type GraphOptions struct {
	Settings          evaluators.Settings
	Tools             *tools.Registry
	Entities          tools.EntityLister
	MaxToolIterations int
}

// NewGraph links fc against lib. Every prompt, detector and tool reference
// must resolve; all failures are reported together as a
// [validation.SchemaError].
func NewGraph(fc *flowchart.Flowchart, lib *prompts.Library, opts GraphOptions) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node, len(fc.Nodes)),
		order: fc.NodeNames(),
	}

	var problems []string
	for _, name := range g.order {
		fn := fc.Nodes[name]
		node := &Node{Name: name, Type: fn.Type, Desc: fn.Data.Desc}
		g.nodes[name] = node

		switch {
		case fn.Type.IsTerminal():
			node.TerminalName = fn.Data.TerminalName
			p, ok := lib.Prompt(fn.Data.TerminalName)
			if node.NoAnnotation() {
				if ok {
					node.Prompt = p
				}
				continue
			}
			if !ok {
				problems = append(problems, fmt.Sprintf("node %s: unknown terminal prompt %q", name, fn.Data.TerminalName))
				continue
			}
			d, ok := lib.DetectorFor(p)
			if !ok {
				problems = append(problems, fmt.Sprintf("node %s: no detector for terminal prompt %q", name, p.Name))
				continue
			}
			node.Prompt, node.Detector = p, d
			node.Evaluator = evaluators.NewTerminal(opts.Settings, opts.Entities)

		default:
			p, ok := lib.Prompt(fn.Data.Prompt())
			if !ok {
				problems = append(problems, fmt.Sprintf("node %s: unknown prompt %q", name, fn.Data.Prompt()))
				continue
			}
			node.Prompt = p

			switch fn.Type {
			case flowchart.NodeDecision:
				node.Evaluator = evaluators.NewDecision(opts.Settings)
			case flowchart.NodeFilter:
				node.Evaluator = evaluators.NewFilter(opts.Settings)
			case flowchart.NodeDecisionTool:
				var available []tools.Tool
				for _, toolName := range fn.Data.Tools {
					t, err := opts.Tools.Get(toolName)
					if err != nil {
						problems = append(problems, fmt.Sprintf("node %s: %v", name, err))
						continue
					}
					available = append(available, t)
				}
				node.Evaluator = evaluators.NewToolDecision(opts.Settings, available, opts.MaxToolIterations)
			default:
				problems = append(problems, fmt.Sprintf("node %s: unsupported type %q", name, fn.Type))
			}
		}
	}

	for _, name := range g.order {
		tr := fc.Nodes[name].Transitions
		if tr == nil {
			continue
		}
		node := g.nodes[name]
		node.True = g.link(name, "true", tr.True, &problems)
		node.False = g.link(name, "false", tr.False, &problems)
		node.Next = g.link(name, "next", tr.Next, &problems)
	}

	if g.start = g.nodes[fc.StartNode]; g.start == nil {
		problems = append(problems, fmt.Sprintf("start node %q does not exist", fc.StartNode))
	}

	if err := validation.NewSchemaError("flowchart", problems); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) link(from, key, to string, problems *[]string) *Node {
	if to == "" {
		return nil
	}
	n, ok := g.nodes[to]
	if !ok {
		*problems = append(*problems, fmt.Sprintf("node %s: %s transition to unknown node %q", from, key, to))
	}
	return n
}

func (g *Graph) Start() *Node { return g.start }

func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns node names in flowchart document order.
func (g *Graph) Names() []string { return append([]string(nil), g.order...) }
