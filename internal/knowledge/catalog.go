// Package knowledge assembles a token-budgeted knowledge context for the
// generative model and renders it into a cache-friendly system prompt.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ErrEmptyCatalogPath is returned by LoadCatalog for a blank path.
var ErrEmptyCatalogPath = errors.New("knowledge catalog path cannot be empty")

// IntentEntry is one topic of the taxonomy with the fragments it retrieves.
type IntentEntry struct {
	Name     models.Intent `yaml:"name"`
	Keywords []string      `yaml:"keywords"`
	Domains  []string      `yaml:"domains"`
	Entities []string      `yaml:"entities"`
	Metrics  []string      `yaml:"metrics"`
}

// Catalog is the full set of knowledge fragments and the intent taxonomy.
type Catalog struct {
	Intents  []IntentEntry              `yaml:"intents"`
	Domains  map[string]models.Fragment `yaml:"domains"`
	Entities map[string]models.Fragment `yaml:"entities"`
	Metrics  map[string]models.Fragment `yaml:"metrics"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyCatalogPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", absPath, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for i := range c.Intents {
		for j, kw := range c.Intents[i].Keywords {
			c.Intents[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &c, nil
}

// Validate checks that every intent references fragments that exist.
func (c *Catalog) Validate() error {
	seen := map[models.Intent]bool{}
	for _, entry := range c.Intents {
		if entry.Name == "" {
			return errors.New("intent entry has no name")
		}
		if seen[entry.Name] {
			return fmt.Errorf("duplicate intent %q", entry.Name)
		}
		seen[entry.Name] = true
		if err := checkRefs(entry.Name, "domain", entry.Domains, c.Domains); err != nil {
			return err
		}
		if err := checkRefs(entry.Name, "entity", entry.Entities, c.Entities); err != nil {
			return err
		}
		if err := checkRefs(entry.Name, "metric", entry.Metrics, c.Metrics); err != nil {
			return err
		}
	}
	return nil
}

func checkRefs(intent models.Intent, kind string, ids []string, fragments map[string]models.Fragment) error {
	for _, id := range ids {
		if _, ok := fragments[id]; !ok {
			return fmt.Errorf("intent %q references unknown %s %q", intent, kind, id)
		}
	}
	return nil
}
