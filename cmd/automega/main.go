// Command automega runs a query x organism batch against one remote stage
// (NCBI BLAST, GenomeNet ClustalW, ...), archiving every downloaded result
// and recording every failure so the batch can run unattended.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/automega/internal/batch"
	"github.com/kingrea/automega/internal/browser"
	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/input"
	"github.com/kingrea/automega/internal/jobs"
	"github.com/kingrea/automega/internal/logging"
	"github.com/kingrea/automega/internal/stage"
	"github.com/kingrea/automega/internal/surface"
	"github.com/kingrea/automega/internal/tui"
)

var log = logging.Get("automega")

type options struct {
	root       string
	configFile string
	stage      string
	organism   string
	query      string
	simple     bool
	plain      bool
	sets       keyValueFlag
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("automega", flag.ContinueOnError)
	fs.StringVar(&opts.root, "root", "", "batch root holding inputs and outputs (defaults to cwd)")
	fs.StringVar(&opts.configFile, "config", "", "config file (defaults to <root>/automega.yaml)")
	fs.StringVar(&opts.stage, "stage", "", "stage to run (blastn, blastp, clustalw or a stage under <root>/stages)")
	fs.StringVar(&opts.organism, "organism", "", "organism list, relative to root")
	fs.StringVar(&opts.query, "query", "", "query list, relative to root")
	fs.BoolVar(&opts.simple, "simple", false, "prompt for a single query instead of reading the query list")
	fs.BoolVar(&opts.plain, "plain", false, "log to the terminal instead of showing the progress view")
	opts.sets = keyValueFlag{}
	fs.Var(&opts.sets, "set", "config override (key=value, repeatable, e.g. download.timeout=3m)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// overrides folds the dedicated flags into the -set map; dedicated flags win.
func (o options) overrides() map[string]string {
	out := map[string]string{}
	for key, value := range o.sets {
		out[key] = value
	}
	if o.stage != "" {
		out["stage"] = o.stage
	}
	if o.organism != "" {
		out["organism_file"] = o.organism
	}
	if o.query != "" {
		out["query_file"] = o.query
	}
	return out
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		die("%v", err)
	}
	os.Exit(run(opts))
}

func run(opts options) int {
	root := opts.root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
		root = wd
	}
	if err := config.InitDir(root); err != nil {
		die("init batch root: %v", err)
	}
	cfg, err := config.Load(root, opts.configFile, opts.overrides())
	if err != nil {
		die("load config: %v", err)
	}
	var console io.Writer = os.Stderr
	if !opts.plain {
		console = io.Discard
	}
	logger, err := logging.Init(logging.Options{Dir: cfg.LogsDir(), Level: cfg.LogLevel, Console: console})
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()

	reg, err := stage.NewDefaultRegistry(cfg.StagesDir())
	if err != nil {
		die("load stages: %v", err)
	}
	def, err := reg.Resolve(cfg.Stage)
	if err != nil {
		die("%v (known stages: %s)", err, strings.Join(reg.IDs(), ", "))
	}
	var sourceExt string
	if def.OrganismsFrom != "" {
		src, err := reg.Resolve(def.OrganismsFrom)
		if err != nil {
			die("%v", err)
		}
		sourceExt = src.Ext
	}

	loader, err := input.NewLoader(cfg.Input.Encodings, cfg.Input.Extensions)
	if err != nil {
		die("input: %v", err)
	}
	queries, err := loadQueries(opts, cfg, def, loader)
	if err != nil {
		die("%v", err)
	}
	var organisms []jobs.Organism
	if def.OrganismsFrom == "" {
		organisms, err = loadOrganisms(cfg, loader)
		if err != nil {
			die("%v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchCfg := batch.Config{
		Stage:  def,
		Layout: cfg.Layout(),
		Opener: browser.Opener{Options: browser.Options{Headless: cfg.Browser.Headless, ExecPath: cfg.Browser.ExecPath}},
		Session: surface.Options{
			PresenceTimeout: cfg.Surface.PresenceTimeout,
			ResultsTimeout:  cfg.Surface.ResultsTimeout,
			Settle:          cfg.Surface.Settle,
		},
		DownloadInterval: cfg.Download.Interval,
		DownloadTimeout:  cfg.Download.Timeout,
		RequireStable:    cfg.Download.RequireStable,
		SessionPolicy:    cfg.Batch.SessionPolicy,
		Renavigate:       cfg.Batch.Renavigate,
		SkipExisting:     cfg.Batch.SkipExisting,
		RecycleOnUnknown: cfg.Batch.RecycleOnUnknown,
		OnConflict:       cfg.Batch.OnConflict,
		SourceExt:        sourceExt,
	}

	var summary batch.Summary
	var runErr error
	if opts.plain {
		orch, err := batch.New(orchCfg)
		if err != nil {
			die("%v", err)
		}
		summary, runErr = orch.Run(ctx, queries, organisms)
	} else {
		summary, runErr = runWithProgress(ctx, orchCfg, queries, organisms)
	}

	fmt.Printf("%s: %d archived, %d skipped, %d failed of %d jobs\n", def.ID, summary.Archived, summary.Skipped, summary.Failed, summary.Total)
	for _, kind := range jobs.FailureKinds {
		if n := summary.ByKind[kind]; n > 0 {
			fmt.Printf("  %-16s %d\n", kind, n)
		}
	}
	fmt.Printf("run log: %s\n", logger.Path())
	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "batch stopped: %v\n", runErr)
		return 1
	}
}

// runWithProgress runs the batch and the progress view side by side. The
// view only renders; pressing q cancels the batch, and the view closes once
// the batch reports that it stopped.
func runWithProgress(ctx context.Context, cfg batch.Config, queries []jobs.Query, organisms []jobs.Organism) (batch.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	program := tea.NewProgram(tui.NewModel(cfg.Stage.ID, cancel))
	orch, err := batch.New(cfg, batch.WithObserver(tui.NewObserver(program)))
	if err != nil {
		return batch.Summary{}, err
	}

	var summary batch.Summary
	var runErr error
	var g errgroup.Group
	g.Go(func() error {
		if _, err := program.Run(); err != nil {
			cancel()
			return fmt.Errorf("progress view: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		summary, runErr = orch.Run(runCtx, queries, organisms)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warningf("%v", err)
	}
	return summary, runErr
}

func loadQueries(opts options, cfg *config.Config, def stage.Definition, loader *input.Loader) ([]jobs.Query, error) {
	if opts.simple {
		code, err := promptQuery(opts.plain)
		if err != nil {
			return nil, err
		}
		q, err := jobs.SimpleQuery(code)
		if err != nil {
			return nil, err
		}
		return []jobs.Query{q}, nil
	}
	lines, err := loader.Load(cfg.QueryFile)
	if err != nil {
		return nil, fmt.Errorf("incomplete input: %w", err)
	}
	parse := jobs.ParseQueries
	if def.OrganismsFrom != "" {
		parse = jobs.ParseQueryIDs
	}
	queries, rejected := parse(lines)
	for _, r := range rejected {
		log.Warningf("%s:%d skipped: %v", cfg.QueryFile, r.Line, r.Err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("incomplete input: no usable queries in %s", cfg.QueryFile)
	}
	return queries, nil
}

func loadOrganisms(cfg *config.Config, loader *input.Loader) ([]jobs.Organism, error) {
	lines, err := loader.Load(cfg.OrganismFile)
	if err != nil {
		return nil, fmt.Errorf("incomplete input: %w", err)
	}
	organisms, rejected := jobs.Organisms(lines)
	for _, r := range rejected {
		log.Warningf("%s:%d skipped: %v", cfg.OrganismFile, r.Line, r.Err)
	}
	if len(organisms) == 0 {
		return nil, fmt.Errorf("incomplete input: no usable organisms in %s", cfg.OrganismFile)
	}
	return organisms, nil
}

func promptQuery(plain bool) (string, error) {
	if !plain {
		return tui.PromptQuery(os.Stdin, os.Stdout)
	}
	fmt.Print("Enter Query Seq :")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = val
	return nil
}
