// Package stage describes remote services as step scripts. A stage is one
// web tool (BLAST, ClustalW, ...) driven through the surface step vocabulary:
// a job script that submits a query and waits for results, and a download
// script that makes the service save its artifact.
package stage

import (
	"fmt"
	"strings"
	"time"
)

// Action names one step of the surface vocabulary.
type Action string

const (
	ActionAwait   Action = "await"
	ActionFill    Action = "fill"
	ActionPick    Action = "pick"
	ActionUpload  Action = "upload"
	ActionSubmit  Action = "submit"
	ActionResults Action = "results"
	ActionClick   Action = "click"
	ActionScroll  Action = "scroll"
)

var knownActions = map[Action]struct{}{
	ActionAwait: {}, ActionFill: {}, ActionPick: {}, ActionUpload: {},
	ActionSubmit: {}, ActionResults: {}, ActionClick: {}, ActionScroll: {},
}

// Step is one scripted interaction. Value and Locator may reference batch
// variables such as {{code}} or {{organism}}.
type Step struct {
	Action     Action        `yaml:"action"`
	Locator    string        `yaml:"locator,omitempty"`
	Value      string        `yaml:"value,omitempty"`
	Suggestion string        `yaml:"suggestion,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// Validate ensures the step carries what its action needs.
func (s Step) Validate() error {
	if _, ok := knownActions[s.Action]; !ok {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Action != ActionScroll && strings.TrimSpace(s.Locator) == "" {
		return fmt.Errorf("%s: locator is required", s.Action)
	}
	switch s.Action {
	case ActionPick:
		if s.Suggestion == "" {
			return fmt.Errorf("pick: suggestion locator is required")
		}
		if s.Value == "" {
			return fmt.Errorf("pick: value is required")
		}
	case ActionUpload:
		if s.Value == "" {
			return fmt.Errorf("upload: value (file path) is required")
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%s: timeout must be >= 0", s.Action)
	}
	return nil
}

// Download describes how a finished result is saved.
type Download struct {
	// File is the fixed name the service saves its artifact under.
	File  string `yaml:"file"`
	Steps []Step `yaml:"steps"`
}

// Definition declares one stage.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	EntryURL    string `yaml:"entry_url"`
	// Ext is the canonical artifact extension, including the dot.
	Ext string `yaml:"ext"`
	// OrganismsFrom names an earlier stage whose archived artifacts replace
	// the organism list; each artifact is then available as {{input_path}}.
	OrganismsFrom string   `yaml:"organisms_from,omitempty"`
	Steps         []Step   `yaml:"steps"`
	Download      Download `yaml:"download"`
}

// Validate ensures the definition is runnable.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("stage: id is required")
	}
	if strings.ContainsAny(def.ID, `/\ `) {
		return fmt.Errorf("stage %s: id must be a single path segment", def.ID)
	}
	if strings.TrimSpace(def.EntryURL) == "" {
		return fmt.Errorf("stage %s: entry_url is required", def.ID)
	}
	if !strings.HasPrefix(def.Ext, ".") || len(def.Ext) < 2 {
		return fmt.Errorf("stage %s: ext must look like .txt", def.ID)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("stage %s: at least one step is required", def.ID)
	}
	for idx, step := range def.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("stage %s step[%d]: %w", def.ID, idx, err)
		}
	}
	if def.Download.File == "" {
		return fmt.Errorf("stage %s: download.file is required", def.ID)
	}
	for idx, step := range def.Download.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("stage %s download step[%d]: %w", def.ID, idx, err)
		}
	}
	if def.OrganismsFrom == def.ID {
		return fmt.Errorf("stage %s: organisms_from cannot name itself", def.ID)
	}
	return nil
}

// Normalized trims user input, applies defaults and validates.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.EntryURL = strings.TrimSpace(clone.EntryURL)
	clone.Ext = strings.TrimSpace(clone.Ext)
	if clone.Ext != "" && !strings.HasPrefix(clone.Ext, ".") {
		clone.Ext = "." + clone.Ext
	}
	clone.OrganismsFrom = strings.TrimSpace(clone.OrganismsFrom)
	clone.Download.File = strings.TrimSpace(clone.Download.File)
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Clone returns a deep copy.
func (def Definition) Clone() Definition {
	clone := def
	clone.Steps = append([]Step(nil), def.Steps...)
	clone.Download.Steps = append([]Step(nil), def.Download.Steps...)
	return clone
}

// Vars are the substitutions available to step values and locators.
type Vars map[string]string

// Variable names set by the batch for every job.
const (
	VarQuery     = "query"
	VarCode      = "code"
	VarOrganism  = "organism"
	VarInputPath = "input_path"
)

// Expand replaces every {{name}} in text. Unknown names are left as is.
func (v Vars) Expand(text string) string {
	if len(v) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	pairs := make([]string, 0, len(v)*2)
	for key, value := range v {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
