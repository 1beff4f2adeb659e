// Command automega-maint repairs input lists between batch runs.
//
//	automega-maint dedupe    [-root dir] [-list organism.txt] [-write]
//	automega-maint prune     [-root dir] [-list organism.txt] [-stage blastp] [-exclude file]...
//	automega-maint finished  [-root dir] [-stage blastp] [-out finished_organism.txt]
//	automega-maint normalize [-root dir] [-list organism.txt]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/input"
	"github.com/kingrea/automega/internal/logging"
	"github.com/kingrea/automega/internal/resume"
)

var log = logging.Get("maint")

const usage = `usage: automega-maint <command> [flags]

commands:
  dedupe     report duplicated entries of a list, -write removes them
  prune      drop entries that already have an archived result
  finished   write every archived organism to a list
  normalize  trim trailing whitespace and blank lines from a list`

func main() {
	if _, err := logging.Init(logging.Options{Level: "WARNING"}); err != nil {
		die("init logging: %v", err)
	}
	if err := runCommand(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		die("%v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// env is what every subcommand shares: the resolved config and a loader.
type env struct {
	cfg    *config.Config
	loader *input.Loader
	out    io.Writer
}

// listPath resolves a list flag against the root, defaulting to the
// configured organism list.
func (e env) listPath(flagValue string) string {
	if flagValue == "" {
		return e.cfg.OrganismFile
	}
	if filepath.IsAbs(flagValue) {
		return flagValue
	}
	return filepath.Join(e.cfg.Root, flagValue)
}

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func runCommand(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	root := fs.String("root", "", "batch root (defaults to cwd)")
	configFile := fs.String("config", "", "config file (defaults to <root>/automega.yaml)")
	list := fs.String("list", "", "list to repair (defaults to the configured organism list)")
	stageID := fs.String("stage", "", "stage whose outputs count as finished (defaults to every <stage>/<query> dir)")

	var write bool
	var exclude multiFlag
	var outFile string
	switch name {
	case "dedupe":
		fs.BoolVar(&write, "write", false, "rewrite the list without duplicates")
	case "prune":
		fs.Var(&exclude, "exclude", "extra list of names to drop, e.g. a NoResult log (repeatable)")
	case "finished":
		fs.StringVar(&outFile, "out", "finished_organism.txt", "where to write the finished list, relative to root")
	case "normalize":
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", name, usage)
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	dir := *root
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}
	cfg, err := config.Load(dir, *configFile, nil)
	if err != nil {
		return err
	}
	loader, err := input.NewLoader(cfg.Input.Encodings, cfg.Input.Extensions)
	if err != nil {
		return err
	}
	e := env{cfg: cfg, loader: loader, out: out}

	switch name {
	case "dedupe":
		return e.dedupe(e.listPath(*list), write)
	case "prune":
		roots, err := e.outputRoots(*stageID)
		if err != nil {
			return err
		}
		return e.prune(e.listPath(*list), roots, exclude)
	case "finished":
		roots, err := e.outputRoots(*stageID)
		if err != nil {
			return err
		}
		return e.finished(roots, e.listPath(outFile))
	default:
		return e.normalize(e.listPath(*list))
	}
}

// outputRoots is the stage directory when one is named, otherwise every
// <stage>/<query> directory of the root.
func (e env) outputRoots(stageID string) ([]string, error) {
	if stageID != "" {
		return []string{e.cfg.Layout().StageDir(stageID)}, nil
	}
	return resume.QueryDirs(e.cfg.Root)
}

func (e env) dedupe(path string, write bool) error {
	lines, err := e.loader.Load(path)
	if err != nil {
		return err
	}
	out, dups := resume.Deduplicate(resume.NormalizeLines(lines))
	fmt.Fprintf(e.out, "same items: %s\n", strings.Join(dups, ", "))
	if !write || len(dups) == 0 {
		return nil
	}
	if err := resume.SaveList(path, out); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "wrote %d entries to %s\n", len(out), path)
	return nil
}

func (e env) prune(path string, outputRoots []string, exclude []string) error {
	lines, err := e.loader.Load(path)
	if err != nil {
		return err
	}
	pending := resume.NormalizeLines(lines)
	out, err := resume.RemoveFinished(pending, outputRoots...)
	if err != nil {
		return err
	}
	var extra [][]string
	for _, name := range exclude {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(e.cfg.Root, p)
		}
		listed, err := e.loader.Load(p)
		if err != nil {
			return err
		}
		extra = append(extra, listed)
	}
	out = resume.RemoveListed(out, extra...)
	if err := resume.SaveList(path, out); err != nil {
		return err
	}
	log.Infof("pruned %s against %d output directories", path, len(outputRoots))
	fmt.Fprintf(e.out, "removed %d, %d left in %s\n", len(pending)-len(out), len(out), path)
	return nil
}

func (e env) finished(outputRoots []string, target string) error {
	names, err := resume.CollectFinished(outputRoots...)
	if err != nil {
		return err
	}
	if err := resume.SaveList(target, names); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d finished organisms written to %s\n", len(names), target)
	return nil
}

func (e env) normalize(path string) error {
	lines, err := e.loader.Load(path)
	if err != nil {
		return err
	}
	if err := resume.SaveList(path, lines); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "normalized %s\n", path)
	return nil
}
