// Package schemas embeds the JSON Schemas for the curator's configuration documents.
package schemas

import _ "embed"

// FlowchartSchemaJSON validates flowchart documents.
//
//go:embed flowchart.schema.json
var FlowchartSchemaJSON string

// PromptsSchemaJSON validates prompt library documents.
//
//go:embed prompts.schema.json
var PromptsSchemaJSON string
