package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirna-curator/curator/internal/validation"
	"github.com/stretchr/testify/require"
)

const libraryJSON = `{
  "prompts": [
    {"name": "prompt_a", "type": "condition_prompt_boolean", "prompt": "Is there a target?", "target_section": "results"},
    {"name": "X", "type": "terminal_full", "prompt": "", "annotation": "GO:0035195", "detector": "detector_for_X"},
    {"name": "no_annotation", "type": "terminal_short_circuit"}
  ],
  "detectors": [
    {"name": "detector_for_X", "type": "AE", "prompt": "Which protein is targeted?"},
    {"name": "other_detector", "type": "AE", "prompt": "Which gene?"}
  ]
}`

func TestParse(t *testing.T) {
	lib, err := Parse("prompts.json", []byte(libraryJSON))
	require.NoError(t, err)

	p, ok := lib.Prompt("prompt_a")
	require.True(t, ok)
	require.Equal(t, "results", p.TargetSection)
	require.Equal(t, TypeConditionBoolean, p.Type)

	x, ok := lib.Prompt("X")
	require.True(t, ok)
	require.Equal(t, "GO:0035195", x.AnnotationLabel())

	det, ok := lib.DetectorFor(x)
	require.True(t, ok)
	require.Equal(t, "detector_for_X", det.Name)

	na, ok := lib.Prompt(NoAnnotation)
	require.True(t, ok)
	require.Equal(t, NoAnnotation, na.AnnotationLabel())
	_, ok = lib.DetectorFor(na)
	require.False(t, ok, "ambiguous without an explicit detector")

	_, ok = lib.Prompt("missing")
	require.False(t, ok)

	require.Len(t, lib.Prompts(), 3)
	require.Len(t, lib.Detectors(), 2)
}

func TestParse_SingularDetector(t *testing.T) {
	doc := `{
  "prompts": [{"name": "T", "type": "terminal_full"}],
  "detector": {"name": "protein", "type": "AE", "prompt": "Which protein?"}
}`
	lib, err := Parse("prompts.json", []byte(doc))
	require.NoError(t, err)

	p, _ := lib.Prompt("T")
	det, ok := lib.DetectorFor(p)
	require.True(t, ok)
	require.Equal(t, "protein", det.Name)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{"no detector", `{"prompts": []}`, "/"},
		{"bad detector type", `{"prompts": [], "detector": {"name": "d", "type": "NER"}}`, "/detector/type"},
		{"duplicate prompt", `{"prompts": [{"name": "a", "type": "filter"}, {"name": "a", "type": "filter"}], "detector": {"name": "d", "type": "AE"}}`, `duplicate prompt name "a"`},
		{"unknown detector", `{"prompts": [{"name": "a", "type": "terminal_full", "detector": "nope"}], "detector": {"name": "d", "type": "AE"}}`, `unknown detector "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, err := Parse("prompts.json", []byte(tt.doc))
			require.Nil(t, lib)
			require.True(t, errors.Is(err, validation.ErrSchema))
			require.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New([]Prompt{{Name: "a", Type: TypeFilter}}, nil)
	require.ErrorContains(t, err, "at least one detector is required")

	lib, err := New([]Prompt{{Name: "a", Type: TypeFilter}}, []Detector{{Name: "d", Type: "AE"}})
	require.NoError(t, err)
	_, ok := lib.Prompt("a")
	require.True(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(libraryJSON), 0o644))

	lib, err := Load(path)
	require.NoError(t, err)
	require.Len(t, lib.Prompts(), 3)
}
