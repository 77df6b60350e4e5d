package curation

import (
	"maps"

	"github.com/mirna-curator/curator/internal/model"
)

// NodeRecord is the ledger entry for one node. Nil fields mean the node was
// not visited or produced no such value.
type NodeRecord struct {
	Visited   *bool   `json:"visited"`
	Result    *bool   `json:"result"`
	Evidence  *string `json:"evidence"`
	Reasoning *string `json:"reasoning"`
}

// Result is the outcome of one run over a (paper, RNA) pair.
type Result struct {
	PaperID string `json:"paper_id"`
	RNAID   string `json:"rna_id"`

	// Nodes has an entry for every node in the graph.
	Nodes map[string]NodeRecord `json:"nodes"`

	// Annotation is nil when the run ended without one.
	Annotation *string `json:"annotation"`

	// AuxiliaryEntities maps detector name to extracted entity. It is nil
	// unless a detector ran.
	AuxiliaryEntities map[string]string `json:"auxiliary_entities"`

	// TerminalNode is the terminal the run reached, if any.
	TerminalNode string `json:"terminal_node,omitempty"`

	Usage model.Usage `json:"usage"`

	// Trace is the serialised conversation.
	Trace string `json:"-"`

	order []string
}

func newResult(paperID, rnaID string, order []string) *Result {
	r := &Result{
		PaperID: paperID,
		RNAID:   rnaID,
		Nodes:   make(map[string]NodeRecord, len(order)),
		order:   order,
	}
	for _, name := range order {
		r.Nodes[name] = NodeRecord{}
	}
	return r
}

// NodeNames returns node names in flowchart order.
func (r *Result) NodeNames() []string { return append([]string(nil), r.order...) }

// Columns lists the keys of [Result.Row] in a stable order.
func (r *Result) Columns() []string {
	cols := make([]string, 0, 4*len(r.order)+2)
	for _, n := range r.order {
		cols = append(cols, n, n+"_result", n+"_evidence", n+"_reasoning")
	}
	return append(cols, "annotation", "aes")
}

// Row flattens the result into one columnar record.
func (r *Result) Row() map[string]any {
	row := make(map[string]any, 4*len(r.order)+2)
	for _, n := range r.order {
		rec := r.Nodes[n]
		row[n] = deref(rec.Visited)
		row[n+"_result"] = deref(rec.Result)
		row[n+"_evidence"] = deref(rec.Evidence)
		row[n+"_reasoning"] = deref(rec.Reasoning)
	}
	row["annotation"] = deref(r.Annotation)
	if r.AuxiliaryEntities == nil {
		row["aes"] = nil
	} else {
		row["aes"] = maps.Clone(r.AuxiliaryEntities)
	}
	return row
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptr[T any](v T) *T { return &v }
