package dsl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/weftd/weft/pkg/graph"
)

// Definition is the wire format of a workflow graph as submitted by the
// editor: raw nodes and edges, prior to any compilation.
type Definition struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// definitionSchema is the JSON schema the wire format is checked against
// before the typed decode. Schema failures surface every violation at once
// instead of the first decode error.
var definitionSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes", "edges"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type", "data"},
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"type": map[string]any{"type": "string", "minLength": 1},
					"data": map[string]any{
						"type":     "object",
						"required": []any{"type", "title"},
						"properties": map[string]any{
							"type":     map[string]any{"type": "string", "minLength": 1},
							"title":    map[string]any{"type": "string", "minLength": 1},
							"args":     map[string]any{"type": "object"},
							"run_if":   map[string]any{"type": "string"},
							"for_each": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		"edges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "source", "target"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"source": map[string]any{"type": "string", "minLength": 1},
					"target": map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
	},
}

// ParseDefinition validates raw definition JSON against the wire schema and
// decodes it.
func ParseDefinition(raw []byte) (*Definition, error) {
	schemaLoader := gojsonschema.NewGoLoader(definitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("definition schema check: %w", err)
	}

	if !result.Valid() {
		var violations []string
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return nil, fmt.Errorf("invalid workflow definition: %s", strings.Join(violations, "; "))
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}

	return &def, nil
}

// Graph builds the graph model for this definition.
func (d *Definition) Graph() (*graph.Graph, error) {
	return graph.New(d.Nodes, d.Edges)
}
