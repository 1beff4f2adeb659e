package jobs

import "strings"

// FailureKind classifies why a job did not produce an archived artifact.
type FailureKind string

const (
	// NoResult: the surface refused an expected interaction, read as "no match".
	NoResult FailureKind = "NoResult"
	// RemoteTimeout: a presence or results wait ran out.
	RemoteTimeout FailureKind = "RemoteTimeout"
	// DownloadTimeout: results were shown but the file never arrived.
	DownloadTimeout FailureKind = "DownloadTimeout"
	// ArchiveConflict: the canonical artifact already exists.
	ArchiveConflict FailureKind = "ArchiveConflict"
	// Unknown: anything else, often a markup change on the remote side.
	Unknown FailureKind = "Unknown"
)

// FailureKinds lists every kind in reporting order.
var FailureKinds = []FailureKind{NoResult, RemoteTimeout, DownloadTimeout, ArchiveConflict, Unknown}

// FailureRecord is one classified job failure. Only the organism reaches the
// side log; Detail is the error text for the run log.
type FailureRecord struct {
	Job    Job
	Kind   FailureKind
	Detail string
}

// FailureLogName returns the file name of a (query, kind) side log.
func FailureLogName(queryID string, kind FailureKind) string {
	return queryID + " - " + string(kind) + ".txt"
}

// ParseFailureLogName is the inverse of FailureLogName.
func ParseFailureLogName(name string) (string, FailureKind, bool) {
	stem, ok := strings.CutSuffix(name, ".txt")
	if !ok {
		return "", "", false
	}
	idx := strings.LastIndex(stem, " - ")
	if idx <= 0 {
		return "", "", false
	}
	kind := FailureKind(stem[idx+3:])
	for _, known := range FailureKinds {
		if kind == known {
			return stem[:idx], kind, true
		}
	}
	return "", "", false
}
