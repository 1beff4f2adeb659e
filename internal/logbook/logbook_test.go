package logbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCreatesFileOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blast", "Q1 - NoResult.txt")
	book, err := New(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, book.Append("Frog"))
	require.NoError(t, book.Append("Newt"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Frog\nNewt\n", string(data))
}

func TestAppendNeverRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("Earlier\n"), 0o644))
	book, err := New(path)
	require.NoError(t, err)
	require.NoError(t, book.Append("Later"))
	lines, err := book.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{"Earlier", "Later"}, lines)
}

func TestAppendRejectsMultilineEntries(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "log.txt"))
	require.NoError(t, err)
	assert.Error(t, book.Append("a\nb"))
	assert.Error(t, book.Append("   "))
}

func TestShelfReusesBooks(t *testing.T) {
	shelf := NewShelf()
	path := filepath.Join(t.TempDir(), "x.txt")
	a, err := shelf.Get(path)
	require.NoError(t, err)
	b, err := shelf.Get(path)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
