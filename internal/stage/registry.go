package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/automega/internal/logging"
)

var log = logging.Get("stage")

// Registry maintains known stage definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// NewDefaultRegistry loads the builtins, then lets definitions found in
// userDir replace them by id.
func NewDefaultRegistry(userDir string) (*Registry, error) {
	reg := NewRegistry()
	defs, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	user, err := LoadDir(userDir)
	if err != nil {
		return nil, err
	}
	for _, def := range user {
		if reg.Override(def) {
			log.Infof("stage %s overridden by %s", def.ID, userDir)
		}
	}
	return reg, nil
}

// Register installs a definition. Returns an error if the ID already exists.
func (r *Registry) Register(def Definition) error {
	def, err := def.Normalized()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("stage: %s already registered", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// Override installs def, replacing any definition with the same ID. It
// reports whether one was replaced. Invalid definitions are ignored.
func (r *Registry) Override(def Definition) bool {
	def, err := def.Normalized()
	if err != nil {
		log.Warningf("ignoring stage definition: %v", err)
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.defs[def.ID]
	r.defs[def.ID] = def
	return replaced
}

// Resolve returns the definition registered under id, checking that a
// referenced source stage exists.
func (r *Registry) Resolve(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("stage: unknown id %s", id)
	}
	if def.OrganismsFrom != "" {
		if _, ok := r.defs[def.OrganismsFrom]; !ok {
			return Definition{}, fmt.Errorf("stage %s: organisms_from references unknown stage %s", id, def.OrganismsFrom)
		}
	}
	return def.Clone(), nil
}

// IDs returns a sorted list of registered stage identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
