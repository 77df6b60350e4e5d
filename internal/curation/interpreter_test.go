package curation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mirna-curator/curator/internal/article"
	"github.com/mirna-curator/curator/internal/evaluators"
	"github.com/mirna-curator/curator/internal/flowchart"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/model/modeltest"
	"github.com/mirna-curator/curator/internal/prompts"
	"github.com/mirna-curator/curator/internal/sections"
	"github.com/mirna-curator/curator/internal/tools"
	"github.com/mirna-curator/curator/internal/tracing"
	"github.com/mirna-curator/curator/internal/validation"
	"github.com/stretchr/testify/require"
)

const scenarioFlowchart = `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"true": "B", "false": "T1"}},
    "B": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_b"}, "transitions": {"true": "T2", "false": "T1"}},
    "T1": {"type": "terminal_short_circuit", "data": {"terminal_name": "no_annotation"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`

const scenarioPrompts = `{
  "prompts": [
    {"name": "prompt_a", "type": "condition_prompt_boolean", "prompt": "Does the paper show direct regulation?", "target_section": "results"},
    {"name": "prompt_b", "type": "condition_prompt_boolean", "prompt": "Was a luciferase assay performed?", "target_section": "methods"},
    {"name": "prompt_f", "type": "filter", "prompt": "Is this paper about miRNA", "target_section": "results"},
    {"name": "X", "type": "terminal_full", "detector": "detector_for_X"},
    {"name": "no_annotation", "type": "terminal_short_circuit"}
  ],
  "detectors": [
    {"name": "detector_for_X", "type": "AE", "prompt": "Which protein does the miRNA regulate?"}
  ]
}`

const (
	questionA = "direct regulation"
	questionB = "luciferase assay performed"
	questionF = "about miRNA"
)

var testArticle = article.MustNew("PMC1",
	article.Section{Title: "Introduction", Text: "MicroRNAs regulate gene expression."},
	article.Section{Title: "Materials and Methods", Text: "HeLa cells were transfected with miR-21 mimics. Luciferase reporter assays were performed."},
	article.Section{Title: "Results and Discussion", Text: "miR-21 directly targets PTEN. Mutation of the seed site abolished repression.\n\nPTEN protein decreased after transfection."},
)

type fixture struct {
	graph   *Graph
	backend *modeltest.Backend
	events  *tracing.MemoryLogger
	interp  *Interpreter
}

func newFixture(t *testing.T, flow string, answers map[string]string, cfg Config) *fixture {
	t.Helper()

	fc, err := flowchart.Parse("flow.json", []byte(flow))
	require.NoError(t, err)
	lib, err := prompts.Parse("prompts.json", []byte(scenarioPrompts))
	require.NoError(t, err)

	g, err := NewGraph(fc, lib, GraphOptions{Settings: evaluators.DefaultSettings()})
	require.NoError(t, err)

	events := &tracing.MemoryLogger{}
	cfg.Tracer = tracing.NewTracer(events, "test-model")

	return &fixture{
		graph:   g,
		backend: &modeltest.Backend{DefaultText: "PTEN", ChooseFunc: modeltest.Answers(answers)},
		events:  events,
		interp:  NewInterpreter(g, cfg),
	}
}

func (f *fixture) run(t *testing.T) (*Result, *model.Conversation, error) {
	t.Helper()
	conv := model.NewConversation(f.backend)
	res, err := f.interp.Run(context.Background(), conv, testArticle, "hsa-miR-21-5p")
	return res, conv, err
}

type ledger struct {
	Visited, Result *bool
}

func ledgerOf(res *Result) map[string]ledger {
	out := map[string]ledger{}
	for name, rec := range res.Nodes {
		out[name] = ledger{Visited: rec.Visited, Result: rec.Result}
	}
	return out
}

func TestRun_AnnotatedTerminal(t *testing.T) {
	f := newFixture(t, scenarioFlowchart, map[string]string{questionA: "yes", questionB: "**Yes**"}, Config{})

	res, _, err := f.run(t)
	require.NoError(t, err)

	want := map[string]ledger{
		"A":  {Visited: ptr(true), Result: ptr(true)},
		"B":  {Visited: ptr(true), Result: ptr(true)},
		"T1": {},
		"T2": {},
	}
	if diff := cmp.Diff(want, ledgerOf(res)); diff != "" {
		t.Fatalf("node ledger mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, res.Annotation)
	require.Equal(t, "X", *res.Annotation)
	require.Equal(t, map[string]string{"detector_for_X": "PTEN"}, res.AuxiliaryEntities)
	require.Equal(t, "T2", res.TerminalNode)
	require.Equal(t, "PMC1", res.PaperID)
	require.Equal(t, "hsa-miR-21-5p", res.RNAID)
	require.NotEmpty(t, res.Trace)
	require.Positive(t, res.Usage.Total())

	results, _ := testArticle.Section("Results and Discussion")
	methods, _ := testArticle.Section("Materials and Methods")
	require.Contains(t, results, *res.Nodes["A"].Evidence)
	require.Contains(t, methods, *res.Nodes["B"].Evidence)
	require.NotNil(t, res.Nodes["A"].Reasoning)
}

func TestRun_ShortCircuitToNoAnnotation(t *testing.T) {
	f := newFixture(t, scenarioFlowchart, map[string]string{questionA: "no"}, Config{})

	res, _, err := f.run(t)
	require.NoError(t, err)

	want := map[string]NodeRecord{
		"B":  {},
		"T1": {},
		"T2": {},
	}
	got := map[string]NodeRecord{"B": res.Nodes["B"], "T1": res.Nodes["T1"], "T2": res.Nodes["T2"]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unvisited nodes should be empty (-want +got):\n%s", diff)
	}
	require.Equal(t, ptr(true), res.Nodes["A"].Visited)
	require.Equal(t, ptr(false), res.Nodes["A"].Result)
	require.Nil(t, res.Annotation)
	require.Nil(t, res.AuxiliaryEntities)
	require.Equal(t, "T1", res.TerminalNode)

	for _, c := range f.backend.CompleteCalls() {
		require.NotContains(t, c.Prefix, "The target of", "detector must not run")
	}
}

func TestRun_MissingTransitionShortCircuits(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"true": "T2"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`
	f := newFixture(t, flow, map[string]string{questionA: "no"}, Config{})

	res, _, err := f.run(t)
	require.NoError(t, err)
	require.Nil(t, res.Annotation)
	require.Nil(t, res.AuxiliaryEntities)
	require.Empty(t, res.TerminalNode)
	require.Equal(t, NodeRecord{}, res.Nodes["T2"])

	for _, ev := range f.events.Events() {
		require.NotEqual(t, tracing.EventTerminal, ev.Type)
	}
}

func TestRun_SectionAppendedOnce(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"next": "F"}},
    "F": {"type": "filter", "data": {"prompt_name": "prompt_f"}, "transitions": {"true": "T2", "false": "T1"}},
    "T1": {"type": "terminal_short_circuit", "data": {"terminal_name": "no_annotation"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`
	f := newFixture(t, flow, map[string]string{questionA: "no", questionF: "yes"}, Config{})
	results, _ := testArticle.Section("Results and Discussion")

	for range 2 {
		res, conv, err := f.run(t)
		require.NoError(t, err)
		require.Equal(t, "T2", res.TerminalNode)

		appends := 0
		for _, m := range conv.Messages() {
			if m.Role == model.RoleUser && strings.Contains(m.Content, results) {
				appends++
			}
		}
		require.Equal(t, 1, appends, "section text must be shown exactly once per run")
	}
}

func TestRun_FilterLedgerOption(t *testing.T) {
	flow := `{
  "startNode": "F",
  "nodes": {
    "F": {"type": "filter", "data": {"prompt_name": "prompt_f"}, "transitions": {"true": "T2", "false": "T1"}},
    "T1": {"type": "terminal_short_circuit", "data": {"terminal_name": "no_annotation"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`
	answers := map[string]string{questionF: "yes"}

	res, _, err := newFixture(t, flow, answers, Config{}).run(t)
	require.NoError(t, err)
	require.Equal(t, NodeRecord{}, res.Nodes["F"])
	require.Equal(t, "X", *res.Annotation)

	f := newFixture(t, flow, answers, Config{FilterInLedger: true})
	res, _, err = f.run(t)
	require.NoError(t, err)
	require.Equal(t, ptr(true), res.Nodes["F"].Visited)
	require.Equal(t, ptr(true), res.Nodes["F"].Result)
	require.Nil(t, res.Nodes["F"].Evidence)

	var types []tracing.EventType
	for _, ev := range f.events.Events() {
		types = append(types, ev.Type)
	}
	require.Equal(t, []tracing.EventType{
		tracing.EventInit,
		tracing.EventSectionChoice,
		tracing.EventFilter,
		tracing.EventTerminal,
	}, types)
}

func TestRun_ErrorBound(t *testing.T) {
	boom := errors.New("backend unavailable")

	for _, failures := range []int{1, 3, 4, 10} {
		f := newFixture(t, scenarioFlowchart, nil, Config{})
		calls := 0
		f.backend.ChooseFunc = func(req *model.ChoiceRequest) (string, error) {
			if !modeltest.IsYesNo(req) {
				return req.Options[0], nil
			}
			calls++
			if calls <= failures {
				return "", boom
			}
			return "no", nil
		}

		res, _, err := f.run(t)
		if failures > DefaultMaxErrors {
			require.ErrorIs(t, err, ErrTooManyErrors, "failures=%d", failures)
			require.ErrorIs(t, err, boom)
			require.Nil(t, res)
			require.Equal(t, DefaultMaxErrors+1, calls)
			continue
		}
		require.NoError(t, err, "failures=%d", failures)
		require.Equal(t, ptr(false), res.Nodes["A"].Result)
	}
}

func TestRun_SectionResolutionFailureIsFatal(t *testing.T) {
	f := newFixture(t, scenarioFlowchart, nil, Config{})
	boom := errors.New("no capacity")
	f.backend.ChooseFunc = func(*model.ChoiceRequest) (string, error) { return "", boom }

	art := article.MustNew("PMC2", article.Section{Title: "Body", Text: "text"}, article.Section{Title: "Figures", Text: "fig"})
	_, err := f.interp.Run(context.Background(), model.NewConversation(f.backend), art, "miR-1")
	require.ErrorIs(t, err, sections.ErrSectionResolution)
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.interp.loaded)
	require.Empty(t, f.interp.resolved)
}

func TestRun_SystemPrompt(t *testing.T) {
	f := newFixture(t, scenarioFlowchart, map[string]string{questionA: "no"}, Config{SystemPrompt: "You are a curator."})

	_, conv, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, model.Message{Role: model.RoleSystem, Content: "You are a curator."}, conv.Messages()[0])
}

func TestRun_TerminalStart(t *testing.T) {
	flow := `{"startNode": "T2", "nodes": {"T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}}}`
	f := newFixture(t, flow, nil, Config{})

	res, _, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, "X", *res.Annotation)
	require.Equal(t, map[string]string{"detector_for_X": "PTEN"}, res.AuxiliaryEntities)
}

// flakyLister fails its first call.
type flakyLister struct {
	calls int
}

func (l *flakyLister) Entities(context.Context, string) ([]string, error) {
	l.calls++
	if l.calls == 1 {
		return nil, errors.New("entity index unavailable")
	}
	return []string{"PTEN", "PDCD4"}, nil
}

func TestRun_TerminalRetryShowsSection(t *testing.T) {
	fc, err := flowchart.Parse("flow.json", []byte(`{"startNode": "T2", "nodes": {"T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}}}`))
	require.NoError(t, err)
	lib, err := prompts.Parse("prompts.json", []byte(scenarioPrompts))
	require.NoError(t, err)
	lister := &flakyLister{}
	g, err := NewGraph(fc, lib, GraphOptions{Settings: evaluators.DefaultSettings(), Entities: lister})
	require.NoError(t, err)

	events := &tracing.MemoryLogger{}
	interp := NewInterpreter(g, Config{Tracer: tracing.NewTracer(events, "test-model")})
	backend := &modeltest.Backend{DefaultText: "PTEN"}
	art := article.MustNew("PMC3", article.Section{Title: "Results", Text: "miR-21 represses PTEN in HeLa cells."})

	res, err := interp.Run(context.Background(), model.NewConversation(backend), art, "hsa-miR-21-5p")
	require.NoError(t, err)
	require.Equal(t, 2, lister.calls)
	require.Equal(t, "X", *res.Annotation)
	require.Contains(t, res.Trace, "miR-21 represses PTEN in HeLa cells.")

	for _, c := range backend.CompleteCalls() {
		shown := false
		for _, m := range c.Messages {
			if strings.Contains(m.Content, "miR-21 represses PTEN") {
				shown = true
			}
		}
		require.True(t, shown, "every completion must see the section text")
	}

	var errs int
	for _, ev := range events.Events() {
		if ev.Type == tracing.EventError {
			errs++
		}
	}
	require.Equal(t, 1, errs)
}

func TestRun_ModelResolutionOncePerName(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"next": "F"}},
    "F": {"type": "filter", "data": {"prompt_name": "prompt_f"}, "transitions": {"true": "T2", "false": "T1"}},
    "T1": {"type": "terminal_short_circuit", "data": {"terminal_name": "no_annotation"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`
	f := newFixture(t, flow, map[string]string{questionA: "yes", questionF: "yes"}, Config{})
	art := article.MustNew("PMC4",
		article.Section{Title: "Body", Text: "miR-21 directly targets PTEN. Repression needs the seed site."},
		article.Section{Title: "Figures", Text: "Figure 1 shows luciferase activity."},
	)

	res, err := f.interp.Run(context.Background(), model.NewConversation(f.backend), art, "hsa-miR-21-5p")
	require.NoError(t, err)
	require.Equal(t, "T2", res.TerminalNode)

	headingChoices := 0
	for _, c := range f.backend.ChooseCalls() {
		if slices.Equal(c.Options, art.Sections()) {
			headingChoices++
		}
	}
	require.Equal(t, 1, headingChoices)

	var choices []tracing.Event
	for _, ev := range f.events.Events() {
		if ev.Type == tracing.EventSectionChoice {
			choices = append(choices, ev)
		}
	}
	require.Len(t, choices, 1)
	require.Equal(t, "results", choices[0].Step)
	require.Equal(t, "Body", choices[0].Result)
}

func TestRun_NextIsFallbackTransition(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"true": "T2", "next": "T1"}},
    "T1": {"type": "terminal_short_circuit", "data": {"terminal_name": "no_annotation"}},
    "T2": {"type": "terminal_full", "data": {"terminal_name": "X"}}
  }
}`
	tests := []struct {
		answer   string
		terminal string
	}{
		{"yes", "T2"},
		{"no", "T1"},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			res, _, err := newFixture(t, flow, map[string]string{questionA: tt.answer}, Config{}).run(t)
			require.NoError(t, err)
			require.Equal(t, tt.terminal, res.TerminalNode)
			require.Equal(t, tt.answer == "yes", res.Annotation != nil)
		})
	}
}

func TestRun_Cycle(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_a"}, "transitions": {"next": "B"}},
    "B": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "prompt_b"}, "transitions": {"next": "A"}}
  }
}`
	_, _, err := newFixture(t, flow, nil, Config{}).run(t)
	require.ErrorIs(t, err, ErrCycle)
}

func TestResult_Row(t *testing.T) {
	f := newFixture(t, scenarioFlowchart, map[string]string{questionA: "no"}, Config{})
	res, _, err := f.run(t)
	require.NoError(t, err)

	require.Equal(t, []string{
		"A", "A_result", "A_evidence", "A_reasoning",
		"B", "B_result", "B_evidence", "B_reasoning",
		"T1", "T1_result", "T1_evidence", "T1_reasoning",
		"T2", "T2_result", "T2_evidence", "T2_reasoning",
		"annotation", "aes",
	}, res.Columns())

	row := res.Row()
	require.Len(t, row, len(res.Columns()))
	require.Equal(t, true, row["A"])
	require.Equal(t, false, row["A_result"])
	require.Nil(t, row["B"])
	require.Nil(t, row["annotation"])
	require.Nil(t, row["aes"])
}

func TestNewGraph(t *testing.T) {
	fc, err := flowchart.Parse("flow.json", []byte(scenarioFlowchart))
	require.NoError(t, err)
	lib, err := prompts.Parse("prompts.json", []byte(scenarioPrompts))
	require.NoError(t, err)

	g, err := NewGraph(fc, lib, GraphOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "T1", "T2"}, g.Names())

	a, ok := g.Node("A")
	require.True(t, ok)
	require.Same(t, a, g.Start())
	b, _ := g.Node("B")
	t1, _ := g.Node("T1")
	require.Same(t, b, a.Transition(true))
	require.Same(t, t1, a.Transition(false))
	require.Equal(t, evaluators.KindDecision, a.Evaluator.Kind())

	t2, _ := g.Node("T2")
	require.Equal(t, evaluators.KindTerminal, t2.Evaluator.Kind())
	require.Equal(t, "detector_for_X", t2.Detector.Name)
	require.True(t, t1.NoAnnotation())
	require.Nil(t, t1.Evaluator)
}

func TestNewGraph_UnresolvedReferences(t *testing.T) {
	flow := `{
  "startNode": "A",
  "nodes": {
    "A": {"type": "conditional_prompt_boolean", "data": {"prompt_name": "missing"}, "transitions": {"true": "B"}},
    "B": {"type": "conditional_tool_use", "data": {"prompt_name": "prompt_b", "tools": ["wikipedia"]}, "transitions": {"true": "T"}},
    "T": {"type": "terminal_full", "data": {"terminal_name": "Y"}}
  }
}`
	fc, err := flowchart.Parse("flow.json", []byte(flow))
	require.NoError(t, err)
	lib, err := prompts.Parse("prompts.json", []byte(scenarioPrompts))
	require.NoError(t, err)

	_, err = NewGraph(fc, lib, GraphOptions{})
	require.ErrorIs(t, err, validation.ErrSchema)

	var se *validation.SchemaError
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Problems, 3)
	require.Contains(t, se.Problems[0], `unknown prompt "missing"`)
	require.Contains(t, se.Problems[1], "wikipedia")
	require.Contains(t, se.Problems[2], `unknown terminal prompt "Y"`)

	registry, err := tools.NewRegistry(tools.NewStaticTool("wikipedia", "", nil, ""))
	require.NoError(t, err)
	_, err = NewGraph(fc, lib, GraphOptions{Tools: registry})
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Problems, 2)
}
