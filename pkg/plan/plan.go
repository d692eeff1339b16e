// Package plan loads declarative harvest plans: JSON documents bundling
// automation rules with workflow templates. Files are schema-checked before
// decoding, then validated semantically through the models package.
package plan

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harvestman-flow/harvestman/pkg/models"
)

// Plan is one plan file's content.
type Plan struct {
	Name      string              `json:"name"`
	Sources   []*SourceConfig     `json:"sources,omitempty"`
	Rules     []*models.Rule      `json:"rules,omitempty"`
	Workflows []*WorkflowTemplate `json:"workflows,omitempty"`
}

// SourceConfig declares an event source the worker runs for this plan. Type
// names a registered source factory; Config is handed to it with the id
// overlaid. Whether the type exists is only known at creation time, so the
// plan layer checks structure and leaves the rest to the registry.
type SourceConfig struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// FactoryConfig is the map handed to the source factory: Config plus the id.
func (s *SourceConfig) FactoryConfig() map[string]any {
	config := make(map[string]any, len(s.Config)+1)
	maps.Copy(config, s.Config)
	config["id"] = s.ID

	return config
}

// WorkflowTemplate declares a workflow the plan instantiates. A template
// with StartOn set is bound to that event: every occurrence creates and
// starts a fresh instance.
type WorkflowTemplate struct {
	Name     string         `json:"name"`
	StartOn  string         `json:"start_on,omitempty"`
	Tasks    []*models.Task `json:"tasks"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// planSchema is the structural contract for plan files. Custom rule actions
// and handler-carrying tasks are programmatic-only, so the action kind enum
// here is narrower than models.ActionKind.
var planSchema = map[string]any{
	"type":                 "object",
	"required":             []any{"name"},
	"additionalProperties": false,
	"properties": map[string]any{
		"name": map[string]any{"type": "string", "minLength": 1},
		"sources": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"type":   map[string]any{"type": "string", "minLength": 1},
					"config": map[string]any{"type": "object"},
				},
			},
		},
		"rules": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "when"},
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"name": map[string]any{"type": "string"},
					"when": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items":    map[string]any{"type": "string", "minLength": 1},
					},
					"enabled": map[string]any{"type": "boolean"},
					"actions": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []any{"kind"},
							"properties": map[string]any{
								"kind":     map[string]any{"type": "string", "enum": []any{"emit", "delay"}},
								"event":    map[string]any{"type": "string"},
								"payload":  map[string]any{"type": "object"},
								"delay_ms": map[string]any{"type": "integer", "minimum": 1},
							},
						},
					},
				},
			},
		},
		"workflows": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "tasks"},
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "minLength": 1},
					"start_on": map[string]any{"type": "string", "minLength": 1},
					"tasks": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":     "object",
							"required": []any{"id", "type"},
							"properties": map[string]any{
								"id":      map[string]any{"type": "string", "minLength": 1},
								"name":    map[string]any{"type": "string"},
								"type":    map[string]any{"type": "string", "enum": []any{"container", "system", "custom"}},
								"target":  map[string]any{"type": "string"},
								"action":  map[string]any{"type": "string"},
								"params":  map[string]any{"type": "object"},
								"retries": map[string]any{"type": "integer", "minimum": 0},
							},
						},
					},
					"metadata": map[string]any{"type": "object"},
				},
			},
		},
	},
}

// Parse schema-checks and decodes one plan document.
func Parse(data []byte) (*Plan, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

func validateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(planSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate plan: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("plan schema validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Validate runs the semantic checks the schema cannot express.
func (p *Plan) Validate() error {
	for _, rule := range p.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("plan %s: %w", p.Name, err)
		}
	}

	for _, tpl := range p.Workflows {
		for _, task := range tpl.Tasks {
			if err := task.Validate(); err != nil {
				return fmt.Errorf("plan %s, workflow %s: %w", p.Name, tpl.Name, err)
			}
		}
	}

	return nil
}

// Load reads and parses one plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return p, nil
}

// LoadDir loads every *.json plan in a directory, sorted by filename.
func LoadDir(dir string) ([]*Plan, error) {
	matches, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list plans in %s: %w", dir, err)
	}

	plans := make([]*Plan, 0, len(matches))

	for _, name := range matches {
		p, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		plans = append(plans, p)
	}

	return plans, nil
}
