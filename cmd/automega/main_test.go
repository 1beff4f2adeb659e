package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValueFlag(t *testing.T) {
	kv := keyValueFlag{}
	require.NoError(t, kv.Set("download.timeout=3m"))
	require.NoError(t, kv.Set("browser.exec_path=/opt/chrome=stable"))
	assert.Equal(t, "3m", kv["download.timeout"])
	assert.Equal(t, "/opt/chrome=stable", kv["browser.exec_path"])
	assert.Error(t, kv.Set("novalue"))
	assert.Error(t, kv.Set(" =x"))
}

func TestParseFlagsFoldsDedicatedFlagsIntoOverrides(t *testing.T) {
	opts, err := parseFlags([]string{
		"-stage", "blastn",
		"-organism", "fish.txt",
		"-set", "stage=blastp",
		"-set", "batch.on_conflict=abort",
		"-plain",
	})
	require.NoError(t, err)
	assert.True(t, opts.plain)
	assert.False(t, opts.simple)
	assert.Equal(t, map[string]string{
		"stage":             "blastn",
		"organism_file":     "fish.txt",
		"batch.on_conflict": "abort",
	}, opts.overrides())
}

func TestParseFlagsRejectsPositionalArguments(t *testing.T) {
	_, err := parseFlags([]string{"-plain", "extra"})
	assert.Error(t, err)
}
