package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const packSchemaJSON = `{
  "type": "object",
  "required": ["id", "npc_name", "goal"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "npc_name": {"type": "string", "minLength": 1},
    "setting": {"type": "string"},
    "goal": {"type": "string", "minLength": 1},
    "prompt": {"type": "string"}
  },
  "additionalProperties": false
}`

var (
	packSchemaOnce sync.Once
	packSchema     *jsonschema.Schema
)

func compiledPackSchema() *jsonschema.Schema {
	packSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("scenario.json", strings.NewReader(packSchemaJSON)); err != nil {
			panic(err)
		}
		packSchema = c.MustCompile("scenario.json")
	})
	return packSchema
}

// Registry indexes scenarios by id. Builtins are always present; YAML
// packs can add scenarios or override builtins by reusing an id.
type Registry struct {
	byID  map[string]Scenario
	order []string
}

func NewRegistry() *Registry {
	r := &Registry{byID: map[string]Scenario{}}
	for _, s := range Builtins() {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s Scenario) {
	if _, ok := r.byID[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.byID[s.ID] = s
}

func (r *Registry) Get(id string) (Scenario, bool) {
	s, ok := r.byID[strings.TrimSpace(id)]
	return s, ok
}

func (r *Registry) List() []Scenario {
	out := make([]Scenario, 0, len(r.order))
	ids := append([]string{}, r.order...)
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// LoadDir discovers scenario pack files under dir (any depth, *.yaml or
// *.yml), validates each against the pack schema, and merges them into
// the registry. A missing dir is not an error.
func (r *Registry) LoadDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.{yaml,yml}"))
	if err != nil {
		return fmt.Errorf("scenario glob: %w", err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		s, err := loadPackFile(path)
		if err != nil {
			return err
		}
		r.add(s)
	}
	return nil
}

func loadPackFile(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario pack %s: %w", path, err)
	}

	// Validate the generic document first so schema errors name the file,
	// then decode into the typed struct.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario pack %s: %w", path, err)
	}
	doc, err = jsonCompatible(doc)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario pack %s: %w", path, err)
	}
	if err := compiledPackSchema().Validate(doc); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario pack %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario pack %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario pack %s: %w", path, err)
	}
	return s, nil
}

// jsonCompatible round-trips a yaml document through JSON so the schema
// validator sees the value shapes it expects.
func jsonCompatible(doc any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
