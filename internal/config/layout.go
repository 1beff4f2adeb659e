package config

import "path/filepath"

// Layout maps batch entities onto the output tree:
//
//	<root>/<stage>/<queryId>/<organism><ext>   archived artifacts
//	<root>/<stage>/<queryId> - <kind>.txt      append-only failure logs
type Layout struct {
	Root string
}

// StageDir returns <root>/<stage>.
func (l Layout) StageDir(stage string) string {
	return filepath.Join(l.Root, stage)
}

// QueryDir returns the directory a query's downloads land in and are archived under.
func (l Layout) QueryDir(stage, queryID string) string {
	return filepath.Join(l.Root, stage, queryID)
}

// ArtifactPath returns the canonical path for an organism's artifact.
func (l Layout) ArtifactPath(stage, queryID, organism, ext string) string {
	return filepath.Join(l.QueryDir(stage, queryID), organism+ext)
}

// FailureLogPath returns the side log for one (query, failure kind) pair.
func (l Layout) FailureLogPath(stage, queryID, kind string) string {
	return filepath.Join(l.StageDir(stage), queryID+" - "+kind+".txt")
}
