// Package catalog loads the concept catalog: the set of fluents to
// generate, their task descriptions, reference definitions, and the
// dependency graph between them.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rtecgen/internal/deps"
	"rtecgen/internal/types"
)

// Catalog is a parsed concept catalog file
type Catalog struct {
	Domain       string          `yaml:"domain"`
	SystemPrompt string          `yaml:"system_prompt"`
	Run          types.RunConfig `yaml:"run"`
	Concepts     []conceptSpec   `yaml:"concepts"`

	dir string
}

type conceptSpec struct {
	ID            string   `yaml:"id"`
	Description   string   `yaml:"description"`
	Reference     string   `yaml:"reference"`
	ReferenceFile string   `yaml:"reference_file"`
	Prerequisites []string `yaml:"prerequisites"`
}

// Load parses the catalog at path. Run settings missing from the file keep
// their defaults; reference_file paths resolve relative to the catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	cat := &Catalog{Run: types.DefaultRunConfig(), dir: filepath.Dir(path)}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := cat.Run.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cat.Concepts))
	for i, spec := range cat.Concepts {
		if spec.ID == "" {
			return nil, fmt.Errorf("catalog %s: concept %d has no id", path, i)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate concept id %q", path, spec.ID)
		}
		seen[spec.ID] = true
		if spec.Reference != "" && spec.ReferenceFile != "" {
			return nil, fmt.Errorf("catalog %s: concept %q has both reference and reference_file", path, spec.ID)
		}
	}

	return cat, nil
}

// Concept materializes the concept with the given id, reading its reference
// definition from disk when reference_file is used.
func (c *Catalog) Concept(id string) (types.Concept, error) {
	for _, spec := range c.Concepts {
		if spec.ID != id {
			continue
		}
		return c.materialize(spec)
	}
	return types.Concept{}, fmt.Errorf("%w: %q", deps.ErrUnknownConcept, id)
}

// AllConcepts materializes every concept in catalog order
func (c *Catalog) AllConcepts() ([]types.Concept, error) {
	out := make([]types.Concept, 0, len(c.Concepts))
	for _, spec := range c.Concepts {
		concept, err := c.materialize(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, concept)
	}
	return out, nil
}

// Graph returns the dependency graph declared by the catalog
func (c *Catalog) Graph() deps.Graph {
	graph := make(deps.Graph, len(c.Concepts))
	for _, spec := range c.Concepts {
		graph[spec.ID] = append([]string(nil), spec.Prerequisites...)
	}
	return graph
}

func (c *Catalog) materialize(spec conceptSpec) (types.Concept, error) {
	reference := spec.Reference
	if spec.ReferenceFile != "" {
		path := spec.ReferenceFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return types.Concept{}, fmt.Errorf("failed to read reference for %q: %w", spec.ID, err)
		}
		reference = string(data)
	}

	concept := types.Concept{
		ID:            spec.ID,
		Description:   strings.TrimSpace(spec.Description),
		Reference:     strings.TrimSpace(reference),
		Prerequisites: spec.Prerequisites,
	}
	if err := concept.Validate(); err != nil {
		return types.Concept{}, err
	}
	return concept, nil
}
