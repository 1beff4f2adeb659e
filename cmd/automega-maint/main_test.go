package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/automega/internal/config"
)

func writeList(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func readList(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDedupeReportsAndRewrites(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "organism.txt")
	writeList(t, list, "a\nb\na\nc\n\n")

	var out bytes.Buffer
	require.NoError(t, runCommand([]string{"dedupe", "-root", root}, &out))
	assert.Contains(t, out.String(), "same items: a")
	assert.Equal(t, "a\nb\na\nc\n\n", readList(t, list), "report only without -write")

	out.Reset()
	require.NoError(t, runCommand([]string{"dedupe", "-root", root, "-write"}, &out))
	assert.Equal(t, "a\nb\nc\n", readList(t, list))
}

func TestPruneDropsFinishedAndExcluded(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "organism.txt")
	writeList(t, list, "Mouse\nFrog\nRat\nNewt\n")
	writeList(t, filepath.Join(root, "blastp", "Q1", "Mouse.txt"), ">m\n")
	writeList(t, filepath.Join(root, "blastp", "Q1 - NoResult.txt"), "Frog\n")

	var out bytes.Buffer
	require.NoError(t, runCommand([]string{"prune", "-root", root, "-stage", "blastp", "-exclude", "blastp/Q1 - NoResult.txt"}, &out))
	assert.Equal(t, "Rat\nNewt\n", readList(t, list))
	assert.Contains(t, out.String(), "removed 2, 2 left")
}

func TestFinishedWritesSortedStems(t *testing.T) {
	root := t.TempDir()
	writeList(t, filepath.Join(root, "blastp", "Q1", "Rat.txt"), "")
	writeList(t, filepath.Join(root, "blastp", "Q2", "Mouse.txt"), "")
	writeList(t, filepath.Join(root, "blastp", "Q2", "Rat.txt"), "")

	var out bytes.Buffer
	require.NoError(t, runCommand([]string{"finished", "-root", root, "-stage", "blastp"}, &out))
	assert.Equal(t, "Mouse\nRat\n", readList(t, filepath.Join(root, "finished_organism.txt")))
}

func TestWholeRootCountsOnlyQueryDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, config.InitDir(root))
	writeList(t, filepath.Join(root, "organism.txt"), "Mouse\nFrog\nquery\nautomega\n")
	writeList(t, filepath.Join(root, "query.txt"), "Q1,MKT\n")
	writeList(t, filepath.Join(root, "blastp", "Q1", "Mouse.txt"), ">m\n")
	writeList(t, filepath.Join(root, "blastp", "Q1 - NoResult.txt"), "Frog\n")
	writeList(t, filepath.Join(root, "logs", "automega.log"), "")

	var out bytes.Buffer
	require.NoError(t, runCommand([]string{"finished", "-root", root}, &out))
	assert.Equal(t, "Mouse\n", readList(t, filepath.Join(root, "finished_organism.txt")))

	// A second pass must not pick up the list it just wrote.
	require.NoError(t, runCommand([]string{"finished", "-root", root}, &out))
	assert.Equal(t, "Mouse\n", readList(t, filepath.Join(root, "finished_organism.txt")))

	out.Reset()
	require.NoError(t, runCommand([]string{"prune", "-root", root}, &out))
	assert.Equal(t, "Frog\nquery\nautomega\n", readList(t, filepath.Join(root, "organism.txt")))
	assert.Contains(t, out.String(), "removed 1, 3 left")
}

func TestNormalizeTrimsTrailingJunk(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "query.txt")
	writeList(t, list, "Q1,MKT  \r\nQ2,AAA\r\n\r\n  \r\n")
	var out bytes.Buffer
	require.NoError(t, runCommand([]string{"normalize", "-root", root, "-list", "query.txt"}, &out))
	assert.Equal(t, "Q1,MKT\nQ2,AAA\n", readList(t, list))
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runCommand([]string{"explode"}, &out))
	assert.Error(t, runCommand(nil, &out))
	require.NoError(t, runCommand([]string{"help"}, &out))
	assert.Contains(t, out.String(), "commands:")
}
