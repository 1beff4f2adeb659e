// Package jobs defines the unit of work of a batch: one query submitted for
// one organism. The matrix order is part of the contract because rate-limited
// services decide which items finish before a manual interrupt.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// QuerySeparator splits a query line into its id and submission code.
const QuerySeparator = ","

var (
	// ErrMalformedQuery marks a query line without an id, code or separator.
	ErrMalformedQuery = errors.New("jobs: malformed query line")
	// ErrInvalidOrganism marks an organism name that cannot be a file stem.
	ErrInvalidOrganism = errors.New("jobs: invalid organism name")
	// ErrDuplicateOrganism marks a repeat of a name listed earlier.
	ErrDuplicateOrganism = errors.New("jobs: duplicate organism")
)

// Query is one line of the query list.
type Query struct {
	// ID names the output directory.
	ID string
	// Code is the sequence (or accession) actually submitted.
	Code string
}

// Organism is used both as remote input text and as the artifact file stem.
type Organism string

// Validate reports whether the name is usable as a file stem.
func (o Organism) Validate() error {
	name := string(o)
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidOrganism)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidOrganism, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidOrganism, name)
	}
	return nil
}

// Job pairs a query with an organism. Index is the position in the matrix.
type Job struct {
	Index    int
	Query    Query
	Organism Organism
}

func (j Job) String() string {
	return fmt.Sprintf("%s-%s", j.Query.ID, j.Organism)
}

// Rejected is an input line that could not be used.
type Rejected struct {
	Line int
	Text string
	Err  error
}

// ParseQuery splits a line on its first separator.
func ParseQuery(line string) (Query, error) {
	id, code, ok := strings.Cut(line, QuerySeparator)
	if !ok {
		return Query{}, fmt.Errorf("%w: missing %q in %q", ErrMalformedQuery, QuerySeparator, line)
	}
	id = strings.TrimSpace(id)
	code = strings.TrimSpace(code)
	if id == "" || code == "" {
		return Query{}, fmt.Errorf("%w: empty id or code in %q", ErrMalformedQuery, line)
	}
	if err := Organism(id).Validate(); err != nil {
		return Query{}, fmt.Errorf("%w: id %q is not a valid directory name", ErrMalformedQuery, id)
	}
	return Query{ID: id, Code: code}, nil
}

// ParseQueries parses every non-blank line. Malformed lines are returned as
// rejections so the caller can skip them and say why.
func ParseQueries(lines []string) ([]Query, []Rejected) {
	var queries []Query
	var rejected []Rejected
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		q, err := ParseQuery(line)
		if err != nil {
			rejected = append(rejected, Rejected{Line: i + 1, Text: line, Err: err})
			continue
		}
		queries = append(queries, q)
	}
	return queries, rejected
}

// ParseQueryIDs is ParseQueries for stages that only need the query id
// because they read an earlier stage's results: a line is "id" or "id,code".
func ParseQueryIDs(lines []string) ([]Query, []Rejected) {
	var queries []Query
	var rejected []Rejected
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.Contains(trimmed, QuerySeparator) {
			q, err := ParseQuery(trimmed)
			if err != nil {
				rejected = append(rejected, Rejected{Line: i + 1, Text: line, Err: err})
				continue
			}
			queries = append(queries, q)
			continue
		}
		if err := Organism(trimmed).Validate(); err != nil {
			rejected = append(rejected, Rejected{Line: i + 1, Text: line, Err: fmt.Errorf("%w: id %q is not a valid directory name", ErrMalformedQuery, trimmed)})
			continue
		}
		queries = append(queries, Query{ID: trimmed, Code: trimmed})
	}
	return queries, rejected
}

// Organisms trims names, drops blanks and rejects names that cannot be file
// stems. An organism is unique within a batch: repeats after the first
// occurrence are rejected with ErrDuplicateOrganism.
func Organisms(lines []string) ([]Organism, []Rejected) {
	var out []Organism
	var rejected []Rejected
	seen := map[Organism]int{}
	for i, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		org := Organism(name)
		if err := org.Validate(); err != nil {
			rejected = append(rejected, Rejected{Line: i + 1, Text: line, Err: err})
			continue
		}
		if first, ok := seen[org]; ok {
			rejected = append(rejected, Rejected{Line: i + 1, Text: line, Err: fmt.Errorf("%w: %q already on line %d", ErrDuplicateOrganism, name, first)})
			continue
		}
		seen[org] = i + 1
		out = append(out, org)
	}
	return out, rejected
}

// SimpleQuery wraps an ad hoc code typed at the prompt. The code doubles as
// the directory name, cut down to something a filesystem accepts.
func SimpleQuery(code string) (Query, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Query{}, fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}
	var b strings.Builder
	for _, r := range code {
		if b.Len() >= 32 {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	id := strings.Trim(b.String(), ".")
	if id == "" {
		id = "query"
	}
	return Query{ID: id, Code: code}, nil
}

// Build returns the cross product with organisms nested inside queries.
// Repeated organisms only produce a job for their first occurrence.
func Build(queries []Query, organisms []Organism) []Job {
	organisms = unique(organisms)
	out := make([]Job, 0, len(queries)*len(organisms))
	for _, q := range queries {
		for _, o := range organisms {
			out = append(out, Job{Index: len(out), Query: q, Organism: o})
		}
	}
	return out
}

// BuildPerQuery is Build for stages whose organisms differ per query, such as
// alignments over a previous stage's archived results.
func BuildPerQuery(queries []Query, organisms func(Query) []Organism) []Job {
	var out []Job
	for _, q := range queries {
		for _, o := range unique(organisms(q)) {
			out = append(out, Job{Index: len(out), Query: q, Organism: o})
		}
	}
	return out
}

func unique(organisms []Organism) []Organism {
	seen := make(map[Organism]struct{}, len(organisms))
	out := make([]Organism, 0, len(organisms))
	for _, o := range organisms {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// GroupByQuery splits an ordered job list into consecutive per-query runs.
func GroupByQuery(list []Job) [][]Job {
	var groups [][]Job
	for _, job := range list {
		n := len(groups)
		if n > 0 && groups[n-1][0].Query.ID == job.Query.ID {
			groups[n-1] = append(groups[n-1], job)
			continue
		}
		groups = append(groups, []Job{job})
	}
	return groups
}
