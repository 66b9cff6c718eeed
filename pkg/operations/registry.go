package operations

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed packs/default.yaml
var defaultPack []byte

// DefaultPackName identifies the embedded pack
const DefaultPackName = "builtin:default"

// pack is the on-disk layout of an operation pack
type pack struct {
	Operations []Spec `yaml:"operations"`
}

// Registry maps operation ids to specs. Reload swaps the whole map.
type Registry struct {
	packs []string
	specs map[string]Spec
	mu    sync.RWMutex
}

// NewRegistry loads the embedded default pack followed by each pack file.
// A later pack replaces an earlier spec only with a higher version.
func NewRegistry(packs ...string) (*Registry, error) {
	r := &Registry{packs: append([]string(nil), packs...)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload clears the registry and repopulates it from every configured pack.
// On error the previous contents are kept.
func (r *Registry) Reload() error {
	specs := make(map[string]Spec)
	if err := mergePack(specs, DefaultPackName, defaultPack); err != nil {
		return err
	}
	for _, path := range r.packs {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read operation pack %s: %w", path, err)
		}
		if err := mergePack(specs, path, data); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.specs = specs
	r.mu.Unlock()
	return nil
}

func mergePack(specs map[string]Spec, name string, data []byte) error {
	var p pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse operation pack %s: %w", name, err)
	}
	for _, spec := range p.Operations {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("operation pack %s: %w", name, err)
		}
		if existing, ok := specs[spec.ID]; ok {
			switch {
			case spec.Version == existing.Version:
				return fmt.Errorf("operation pack %s: %s version %d is already defined", name, spec.ID, spec.Version)
			case spec.Version < existing.Version:
				continue
			}
		}
		specs[spec.ID] = spec
	}
	return nil
}

// Get returns the spec for id
func (r *Registry) Get(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns all operation ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered specs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
