package curation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mirna-curator/curator/internal/article"
	"github.com/mirna-curator/curator/internal/evaluators"
	"github.com/mirna-curator/curator/internal/flowchart"
	"github.com/mirna-curator/curator/internal/markdown"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/sections"
	"github.com/mirna-curator/curator/internal/tracing"
)

var (
	// ErrTooManyErrors aborts a run whose evaluators failed more often than allowed.
	ErrTooManyErrors = errors.New("too many evaluator errors")

	// ErrCycle aborts a run that reaches the same node twice.
	ErrCycle = errors.New("flowchart cycle")
)

// DefaultMaxErrors is the number of evaluator failures a run tolerates.
const DefaultMaxErrors = 3

// Config controls an [Interpreter].
type Config struct {
	// MaxErrors is the number of evaluator failures tolerated per run. The
	// run aborts on the next one.
	MaxErrors int

	// FilterInLedger records filter nodes in the result's node table.
	FilterInLedger bool

	// SystemPrompt, when set, opens every run's conversation.
	SystemPrompt string

	Resolver *sections.Resolver
	Tracer   *tracing.Tracer
}

// Interpreter runs a [Graph] over one article at a time. It owns per-run
// caches, so a single Interpreter must not be used by concurrent runs.
type Interpreter struct {
	graph *Graph
	cfg   Config

	// loaded holds resolved section names already shown to the model.
	loaded     map[string]struct{}
	loadOrder  []string
	resolved   map[string]string
	lastLoaded string
}

func NewInterpreter(g *Graph, cfg Config) *Interpreter {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.Resolver == nil {
		cfg.Resolver = sections.NewResolver(sections.DefaultOptions())
	}
	in := &Interpreter{graph: g, cfg: cfg}
	in.reset()
	return in
}

func (in *Interpreter) reset() {
	in.loaded = map[string]struct{}{}
	in.loadOrder = nil
	in.resolved = map[string]string{}
	in.lastLoaded = ""
}

// run carries the state of one execution.
type run struct {
	ctx     context.Context
	session model.Session
	art     *article.Article
	rnaID   string
	result  *Result
	errors  int
	seen    map[string]bool
}

// Run walks the graph for art and rnaID, appending to session. It returns a
// complete result, or an error if the run had to be abandoned.
func (in *Interpreter) Run(ctx context.Context, session model.Session, art *article.Article, rnaID string) (*Result, error) {
	defer in.reset()

	r := &run{
		ctx:     ctx,
		session: session,
		art:     art,
		rnaID:   rnaID,
		result:  newResult(art.ID, rnaID, in.graph.Names()),
		seen:    map[string]bool{},
	}

	slog.Info("Starting curation", "paper", art.ID, "rna", rnaID, "start", in.graph.Start().Name)
	in.emit(r, tracing.Event{Type: tracing.EventInit, Step: "startup"})

	if in.cfg.SystemPrompt != "" {
		if err := model.Turn(session, model.RoleSystem, func() error {
			return session.Append(in.cfg.SystemPrompt)
		}); err != nil {
			return nil, err
		}
	}

	node := in.graph.Start()
	for node != nil && !node.IsTerminal() {
		if r.seen[node.Name] {
			return nil, fmt.Errorf("%w: %s reached twice", ErrCycle, node.Name)
		}

		out, err := in.evaluate(r, node)
		if err != nil {
			return nil, err
		}
		if out == nil {
			// retry after a recoverable failure
			continue
		}
		r.seen[node.Name] = true

		answer := normalize(out.Answer)
		outcome := answer == "yes"

		evType := tracing.EventInternal
		if node.Type == flowchart.NodeFilter {
			evType = tracing.EventFilter
		}
		in.emit(r, tracing.Event{
			Type:      evType,
			Step:      node.Name,
			Evidence:  out.Evidence,
			Result:    answer,
			Reasoning: out.Reasoning,
		})

		if node.Type != flowchart.NodeFilter || in.cfg.FilterInLedger {
			rec := NodeRecord{
				Visited:   ptr(true),
				Result:    ptr(outcome),
				Reasoning: ptr(out.Reasoning),
			}
			if node.Type != flowchart.NodeFilter {
				rec.Evidence = ptr(out.Evidence)
			}
			r.result.Nodes[node.Name] = rec
		}

		next := node.Transition(outcome)
		if next == nil {
			slog.Info("No transition for outcome, ending run without annotation", "node", node.Name, "outcome", outcome)
		}
		node = next
	}

	if node != nil {
		if err := in.terminate(r, node); err != nil {
			return nil, err
		}
	}

	r.result.Trace = session.Transcript()
	r.result.Usage = session.Usage()
	slog.Info("Finished curation", "paper", art.ID, "rna", rnaID,
		"terminal", r.result.TerminalNode, "annotation", deref(r.result.Annotation),
		"input_tokens", r.result.Usage.InputTokens, "output_tokens", r.result.Usage.OutputTokens)
	return r.result, nil
}

// evaluate runs node's evaluator once. A nil outcome with a nil error means
// the evaluator failed and the node should be retried.
func (in *Interpreter) evaluate(r *run, node *Node) (*evaluators.Outcome, error) {
	requested := ""
	prompt := ""
	if node.Prompt != nil {
		requested = node.Prompt.TargetSection
		prompt = node.Prompt.Prompt
	}
	if node.IsTerminal() {
		prompt = node.Detector.Prompt
	}

	name, err := in.section(r, node, requested)
	if err != nil {
		return nil, err
	}
	text, _ := r.art.Section(name)

	// A section is loaded once its text is in the session.
	_, already := in.loaded[name]
	if already {
		in.lastLoaded = name
	}

	out, err := node.Evaluator.Evaluate(r.ctx, &evaluators.Request{
		Session:     r.session,
		SectionText: text,
		LoadText:    !already,
		Prompt:      prompt,
		RNAID:       r.rnaID,
		PaperID:     r.art.ID,
		Shown: func() {
			if _, ok := in.loaded[name]; !ok {
				in.loaded[name] = struct{}{}
				in.loadOrder = append(in.loadOrder, name)
			}
			in.lastLoaded = name
		},
	})
	if err == nil {
		return out, nil
	}

	r.errors++
	slog.Error("Evaluator failed", "node", node.Name, "section", name, "errors", r.errors, "error", err)
	in.emit(r, tracing.Event{Type: tracing.EventError, Step: node.Name, Result: err.Error()})
	if r.errors > in.cfg.MaxErrors {
		return nil, fmt.Errorf("%w: %d failures, last at node %s: %w", ErrTooManyErrors, r.errors, node.Name, err)
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, nil
}

// section resolves requested to a heading of the article, consulting the
// model at most once per requested name per run. An empty request reuses the
// last section shown, or the article's first section.
func (in *Interpreter) section(r *run, node *Node, requested string) (string, error) {
	if requested == "" {
		if in.lastLoaded != "" {
			return in.lastLoaded, nil
		}
		if names := r.art.Sections(); len(names) > 0 {
			return names[0], nil
		}
		return "", fmt.Errorf("%w: node %s: paper %s has no sections", sections.ErrSectionResolution, node.Name, r.art.ID)
	}

	if name, ok := in.resolved[requested]; ok {
		return name, nil
	}

	res, err := in.cfg.Resolver.Resolve(r.ctx, r.session, requested, r.art.Sections())
	if err != nil {
		slog.Error("Section resolution failed, abandoning run",
			"paper", r.art.ID, "rna", r.rnaID, "node", node.Name, "requested", requested,
			"available", r.art.Sections(), "loaded", in.loadOrder, "visited", visited(r.result),
			"errors", r.errors, "error", err)
		return "", err
	}
	in.resolved[requested] = res.Name

	if res.Method != sections.MethodExact {
		slog.Debug("Resolved section", "requested", requested, "section", res.Name, "method", res.Method)
		in.emit(r, tracing.Event{
			Type:      tracing.EventSectionChoice,
			Step:      requested,
			Result:    res.Name,
			Reasoning: res.Reasoning,
		})
	}
	return res.Name, nil
}

func (in *Interpreter) terminate(r *run, node *Node) error {
	r.result.TerminalNode = node.Name

	if node.NoAnnotation() {
		slog.Info("Reached no-annotation terminal", "node", node.Name)
		return nil
	}

	var out *evaluators.Outcome
	for out == nil {
		var err error
		if out, err = in.evaluate(r, node); err != nil {
			return err
		}
	}

	entity := out.Entity
	r.result.Annotation = ptr(node.Prompt.AnnotationLabel())
	r.result.AuxiliaryEntities = map[string]string{node.Detector.Name: entity}

	in.emit(r, tracing.Event{
		Type:      tracing.EventTerminal,
		Step:      node.Name,
		Evidence:  out.Evidence,
		Result:    entity,
		Reasoning: out.Reasoning,
	})
	return nil
}

func (in *Interpreter) emit(r *run, ev tracing.Event) {
	ev.PaperID = r.art.ID
	ev.RNAID = r.rnaID
	ev.LoadedSections = slices.Clone(in.loadOrder)
	in.cfg.Tracer.Emit(ev)
}

// normalize folds case and strips markdown emphasis from a model answer.
func normalize(answer string) string {
	return strings.ToLower(strings.TrimSpace(markdown.PlainText(answer)))
}

func visited(res *Result) []string {
	var out []string
	for _, n := range res.order {
		if res.Nodes[n].Visited != nil {
			out = append(out, n)
		}
	}
	return out
}
