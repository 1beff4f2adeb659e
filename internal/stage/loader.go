package stage

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtin embed.FS

// ParseDefinitionYAML decodes and validates a stage definition.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("stage: definition payload is empty")
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("stage: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionFile loads a stage definition from disk.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("stage: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(content)
	if err != nil {
		return Definition{}, fmt.Errorf("stage: %s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// Builtins returns the bundled stages sorted by id.
func Builtins() ([]Definition, error) {
	entries, err := fs.ReadDir(builtin, "builtin")
	if err != nil {
		return nil, fmt.Errorf("stage: list builtins: %w", err)
	}
	defs := make([]Definition, 0, len(entries))
	for _, entry := range entries {
		data, err := builtin.ReadFile(path.Join("builtin", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("stage: read builtin %s: %w", entry.Name(), err)
		}
		def, err := ParseDefinitionYAML(data)
		if err != nil {
			return nil, fmt.Errorf("stage: builtin %s: %w", entry.Name(), err)
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// LoadDir loads every *.yaml / *.yml definition in dir. A missing directory
// yields no definitions.
func LoadDir(dir string) ([]Definition, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stage: list %s: %w", dir, err)
	}
	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadDefinitionFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
