package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mirna-curator/curator/schemas"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrSchema is wrapped by every [SchemaError].
var ErrSchema = errors.New("invalid curation configuration")

// SchemaError reports every problem found in a configuration document.
type SchemaError struct {
	// Source names the document, usually a file path.
	Source   string
	Problems []string
}

func (e *SchemaError) Error() string {
	src := e.Source
	if src == "" {
		src = "document"
	}
	return fmt.Sprintf("%s: %s", src, strings.Join(e.Problems, "; "))
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// NewSchemaError returns nil when there are no problems.
func NewSchemaError(source string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &SchemaError{Source: source, Problems: problems}
}

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

var flowchartSchema *jsonschema.Schema
var promptsSchema *jsonschema.Schema

func init() {
	flowchartSchema = mustCompileSchema(schemas.FlowchartSchemaJSON, "flowchart.schema.json")
	promptsSchema = mustCompileSchema(schemas.PromptsSchemaJSON, "prompts.schema.json")
}

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// ValidateFlowchartBytes validates a raw flowchart JSON document.
func ValidateFlowchartBytes(data []byte) []string {
	return validateJSONBytes(flowchartSchema, data)
}

// ValidatePromptsBytes validates a raw prompt library JSON document.
func ValidatePromptsBytes(data []byte) []string {
	return validateJSONBytes(promptsSchema, data)
}

func validateJSONBytes(schema *jsonschema.Schema, data []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}
	return validateAgainstSchema(schema, doc)
}

func validateAgainstSchema(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}
