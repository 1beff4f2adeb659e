// Package resume repairs input lists between runs so an interrupted batch
// can pick up where it stopped.
package resume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/kingrea/automega/internal/artifact"
	"github.com/kingrea/automega/internal/jobs"
)

// Deduplicate keeps the first occurrence of every entry. duplicates lists
// each repeated value once, in first-seen order.
func Deduplicate(list []string) (out []string, duplicates []string) {
	seen := make(map[string]int, len(list))
	out = make([]string, 0, len(list))
	for _, item := range list {
		seen[item]++
		switch seen[item] {
		case 1:
			out = append(out, item)
		case 2:
			duplicates = append(duplicates, item)
		}
	}
	return out, duplicates
}

// CollectFinished returns the sorted, distinct stems of every artifact
// under the given output roots.
func CollectFinished(outputRoots ...string) ([]string, error) {
	set, err := finishedSet(outputRoots)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for stem := range set {
		out = append(out, stem)
	}
	sort.Strings(out)
	return out, nil
}

// RemoveFinished drops every pending entry that already has an artifact
// anywhere under one of outputRoots. Order is preserved.
func RemoveFinished(pending []string, outputRoots ...string) ([]string, error) {
	set, err := finishedSet(outputRoots)
	if err != nil {
		return nil, err
	}
	return filter(pending, set), nil
}

// RemoveListed drops every pending entry named in one of the given lists,
// such as a NoResult log that should not be retried.
func RemoveListed(pending []string, lists ...[]string) []string {
	set := map[string]struct{}{}
	for _, list := range lists {
		for _, item := range list {
			set[strings.TrimSpace(item)] = struct{}{}
		}
	}
	return filter(pending, set)
}

// NormalizeLines trims trailing whitespace from every entry and drops
// trailing blank entries.
func NormalizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// SaveList writes lines one per line, newline terminated, replacing path
// atomically so a crash never leaves a half-written list.
func SaveList(path string, lines []string) error {
	lines = NormalizeLines(lines)
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("resume: save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("resume: save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("resume: save %s: %w", path, err)
	}
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	} else {
		_ = os.Chmod(tmp.Name(), 0o644)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("resume: save %s: %w", path, err)
	}
	return nil
}

// QueryDirs lists every <stage>/<query> directory of a batch root. The
// root's own files (lists, config) and its logs and stages folders are not
// outputs and are left out.
func QueryDirs(batchRoot string) ([]string, error) {
	stages, err := subdirs(batchRoot)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range stages {
		if reservedDirs[name] {
			continue
		}
		queries, err := subdirs(filepath.Join(batchRoot, name))
		if err != nil {
			return nil, err
		}
		for _, q := range queries {
			out = append(out, filepath.Join(batchRoot, name, q))
		}
	}
	return out, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume: list %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

func finishedSet(outputRoots []string) (map[string]struct{}, error) {
	set := map[string]struct{}{}
	for _, root := range outputRoots {
		if err := scanFinished(root, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func scanFinished(outputRoot string, set map[string]struct{}) error {
	err := filepath.WalkDir(outputRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == outputRoot && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		name := d.Name()
		top := filepath.Dir(path) == filepath.Clean(outputRoot)
		if d.IsDir() {
			if path == outputRoot {
				return nil
			}
			if strings.HasPrefix(name, ".") || (top && reservedDirs[name]) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !isArtifactName(name) {
			return nil
		}
		set[strings.TrimSuffix(name, filepath.Ext(name))] = struct{}{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resume: scan %s: %w", outputRoot, err)
	}
	return nil
}

// reservedDirs hold run logs and stage definitions, never artifacts.
var reservedDirs = map[string]bool{"logs": true, "stages": true}

func isArtifactName(name string) bool {
	if strings.HasPrefix(name, ".") || artifact.IsPartialName(name) {
		return false
	}
	if _, _, ok := jobs.ParseFailureLogName(name); ok {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return stem != "" && !strings.HasSuffix(stem, ".conflict")
}

func filter(list []string, drop map[string]struct{}) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if _, ok := drop[strings.TrimSpace(item)]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}
