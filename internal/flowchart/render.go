package flowchart

import (
	"fmt"
	"strings"
)

// Mermaid renders the flowchart as a Mermaid "flowchart TD" diagram.
// Decision nodes are drawn as diamonds, filters as hexagons and terminals as
// rounded boxes labelled with their terminal name.
func (f *Flowchart) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	for _, name := range f.NodeNames() {
		node := f.Nodes[name]
		label := mermaidLabel(name, node)
		switch {
		case node.Type.IsDecision():
			fmt.Fprintf(&sb, "    %s{\"%s\"}\n", name, label)
		case node.Type == NodeFilter:
			fmt.Fprintf(&sb, "    %s{{\"%s\"}}\n", name, label)
		default:
			fmt.Fprintf(&sb, "    %s([\"%s\"])\n", name, label)
		}
	}

	for _, name := range f.NodeNames() {
		t := f.Nodes[name].Transitions
		if t == nil {
			continue
		}
		if t.True != "" {
			fmt.Fprintf(&sb, "    %s -->|yes| %s\n", name, t.True)
		}
		if t.False != "" {
			fmt.Fprintf(&sb, "    %s -->|no| %s\n", name, t.False)
		}
		if t.Next != "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", name, t.Next)
		}
	}

	fmt.Fprintf(&sb, "    style %s stroke-width:3px\n", f.StartNode)
	return sb.String()
}

func mermaidLabel(name string, node Node) string {
	label := name
	switch {
	case node.Data.Desc != "":
		label = node.Data.Desc
	case node.Type.IsTerminal():
		label = node.Data.TerminalName
	}
	return strings.ReplaceAll(label, `"`, "'")
}
