package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/jobs"
)

// SourceOrganisms lists the organisms that have an archived artifact with
// ext under <root>/<from>/<queryID>, sorted by name. Conflict copies and
// in-progress downloads are not artifacts.
func SourceOrganisms(layout config.Layout, from, queryID, ext string) ([]jobs.Organism, error) {
	dir := layout.QueryDir(from, queryID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stage: list %s: %w", dir, err)
	}
	var out []jobs.Organism
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		if strings.HasSuffix(stem, ".conflict") {
			continue
		}
		organism := jobs.Organism(stem)
		if organism.Validate() != nil {
			continue
		}
		out = append(out, organism)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
