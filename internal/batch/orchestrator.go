// Package batch runs a job matrix against one stage: sequentially, one
// session at a time, isolating each job's failure so the batch keeps going.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/kingrea/automega/internal/artifact"
	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/jobs"
	"github.com/kingrea/automega/internal/logging"
	"github.com/kingrea/automega/internal/stage"
	"github.com/kingrea/automega/internal/surface"
)

var log = logging.Get("batch")

// Config wires an orchestrator.
type Config struct {
	Stage  stage.Definition
	Layout config.Layout
	Opener surface.Opener

	Session surface.Options

	DownloadInterval time.Duration
	DownloadTimeout  time.Duration
	RequireStable    bool

	// SessionPolicy is config.SessionPerQuery or config.SessionReuse.
	SessionPolicy string
	// Renavigate reloads the entry page for every job.
	Renavigate       bool
	SkipExisting     bool
	RecycleOnUnknown bool
	// OnConflict is one of the config.Conflict* policies.
	OnConflict string

	// SourceExt is the artifact extension of Stage.OrganismsFrom.
	SourceExt string
}

// Option customizes the orchestrator instance.
type Option func(*Orchestrator)

// WithObserver attaches a progress observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLeases shares a lease table between orchestrators in one process.
func WithLeases(leases *artifact.Leases) Option {
	return func(o *Orchestrator) {
		if leases != nil {
			o.leases = leases
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Orchestrator drives a batch.
type Orchestrator struct {
	cfg      Config
	archiver *artifact.Archiver
	waiter   artifact.Waiter
	leases   *artifact.Leases
	observer Observer
	clock    func() time.Time
}

// New validates cfg and builds an orchestrator.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Stage.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	if cfg.Opener == nil {
		return nil, fmt.Errorf("batch: opener is required")
	}
	if cfg.Layout.Root == "" {
		return nil, fmt.Errorf("batch: output root is required")
	}
	if cfg.SessionPolicy == "" {
		cfg.SessionPolicy = config.SessionPerQuery
	}
	if cfg.OnConflict == "" {
		cfg.OnConflict = config.ConflictRecord
	}
	if cfg.DownloadInterval <= 0 {
		cfg.DownloadInterval = time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = artifact.DefaultDownloadTimeout
	}
	if !cfg.Renavigate && startsOnEntryPage(cfg.Stage) {
		return nil, fmt.Errorf("batch: stage %s starts by awaiting an entry page element; renavigate can only be off for single-page stages", cfg.Stage.ID)
	}
	if cfg.Stage.OrganismsFrom != "" && cfg.SourceExt == "" {
		return nil, fmt.Errorf("batch: stage %s reads %s but no source extension is set", cfg.Stage.ID, cfg.Stage.OrganismsFrom)
	}
	archiver := artifact.NewArchiver(cfg.Layout, cfg.Stage.ID)
	archiver.Force = cfg.OnConflict == config.ConflictForce
	o := &Orchestrator{
		cfg:      cfg,
		archiver: archiver,
		waiter:   artifact.Waiter{Interval: cfg.DownloadInterval, RequireStable: cfg.RequireStable},
		leases:   artifact.NewLeases(),
		observer: NopObserver{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// startsOnEntryPage reports whether the first step waits for an element of
// the entry page. After a job the session sits on a results page, so such a
// stage has to reload the entry page for every job.
func startsOnEntryPage(def stage.Definition) bool {
	return len(def.Steps) > 0 && def.Steps[0].Action == stage.ActionAwait
}

// Plan builds the job matrix. Stages reading an earlier stage's results get
// one job per archived artifact of that stage, per query.
func (o *Orchestrator) Plan(queries []jobs.Query, organisms []jobs.Organism) []jobs.Job {
	from := o.cfg.Stage.OrganismsFrom
	if from == "" {
		return jobs.Build(queries, organisms)
	}
	return jobs.BuildPerQuery(queries, func(q jobs.Query) []jobs.Organism {
		found, err := stage.SourceOrganisms(o.cfg.Layout, from, q.ID, o.cfg.SourceExt)
		if err != nil {
			log.Warningf("%s: no %s results to read: %v", q.ID, from, err)
			return nil
		}
		if len(found) == 0 {
			log.Warningf("%s: no archived %s results under %s", q.ID, from, o.cfg.Layout.QueryDir(from, q.ID))
		}
		return found
	})
}

// Run plans the matrix and executes it.
func (o *Orchestrator) Run(ctx context.Context, queries []jobs.Query, organisms []jobs.Organism) (Summary, error) {
	return o.RunJobs(ctx, o.Plan(queries, organisms))
}

// RunJobs executes list in order. The returned error is non-nil only for
// cancellation, an aborting archive conflict, or an unusable output tree;
// job failures are recorded and reported through the observer instead.
func (o *Orchestrator) RunJobs(ctx context.Context, list []jobs.Job) (Summary, error) {
	started := o.clock()
	summary := Summary{
		RunID:  uuid.NewString(),
		Stage:  o.cfg.Stage.ID,
		Total:  len(list),
		ByKind: map[jobs.FailureKind]int{},
	}
	log.Infof("run %s: %d jobs on stage %s", summary.RunID, summary.Total, summary.Stage)
	o.observer.BatchStarted(summary.RunID, summary.Total)

	r := &run{o: o, summary: &summary}
	err := r.execute(ctx, list)
	r.closeSession()

	summary.Elapsed = o.clock().Sub(started)
	if err != nil {
		log.Errorf("run %s stopped after %d/%d jobs: %v", summary.RunID, summary.Done(), summary.Total, err)
	} else {
		log.Infof("run %s finished: %d archived, %d skipped, %d failed", summary.RunID, summary.Archived, summary.Skipped, summary.Failed)
	}
	o.observer.BatchFinished(summary, err)
	return summary, err
}

// run holds the state of one RunJobs call.
type run struct {
	o       *Orchestrator
	summary *Summary
	session *surface.Session
}

func (r *run) execute(ctx context.Context, list []jobs.Job) error {
	for _, group := range jobs.GroupByQuery(list) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runQuery(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runQuery(ctx context.Context, group []jobs.Job) error {
	cfg := r.o.cfg
	query := group[0].Query
	dir := cfg.Layout.QueryDir(cfg.Stage.ID, query.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("batch: prepare %s: %w", dir, err)
	}
	release, err := r.o.leases.Acquire(ctx, dir)
	if err != nil {
		return err
	}
	defer release()

	// Opened by the first job that is not skipped.
	var prepared bool
	var openErr error
	for _, job := range group {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.o.observer.JobStarted(job)
		exp := r.o.expect(job, dir)
		var outcome Outcome
		if cfg.SkipExisting && exp.Archived() {
			log.Infof("%s: already archived, skipping", job)
			outcome = Outcome{Job: job, Status: StatusSkipped, Path: exp.CanonicalPath}
		} else {
			if !prepared {
				prepared = true
				openErr = r.prepareSession(ctx, dir)
			}
			if openErr != nil {
				outcome = r.o.fail(job, r.o.clock(), openErr)
			} else {
				outcome = r.runJob(ctx, job, exp)
			}
		}
		if ctx.Err() != nil && outcome.Status == StatusFailed && errors.Is(outcome.Err, ctx.Err()) {
			return ctx.Err()
		}
		r.o.report(r.summary, outcome)

		switch {
		case outcome.Kind == jobs.ArchiveConflict && cfg.OnConflict == config.ConflictAbort:
			return fmt.Errorf("batch: %s: %w", job, outcome.Err)
		case outcome.Kind == jobs.Unknown && cfg.RecycleOnUnknown && openErr == nil:
			// The surface may be anywhere; start the next job from a fresh browser.
			log.Noticef("%s: recycling session after unknown failure", job)
			r.closeSession()
			prepared = false
		}
	}
	if cfg.SessionPolicy == config.SessionPerQuery {
		r.closeSession()
	}
	return nil
}

// prepareSession makes sure a session is open with downloads landing in dir.
func (r *run) prepareSession(ctx context.Context, dir string) error {
	if r.session != nil {
		err := r.session.Retarget(ctx, dir)
		if err == nil {
			return nil
		}
		log.Warningf("retarget session to %s failed, reopening: %v", dir, err)
		r.closeSession()
	}
	sess, err := surface.Open(ctx, r.o.cfg.Opener, dir, r.o.cfg.Session)
	if err != nil {
		log.Errorf("open session for %s: %s", dir, eris.ToString(err, true))
		return err
	}
	r.session = sess
	return nil
}

func (r *run) closeSession() {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		log.Warningf("close session: %v", err)
	}
	r.session = nil
}

func (o *Orchestrator) expect(job jobs.Job, dir string) artifact.Expectation {
	cfg := o.cfg
	return artifact.NewExpectation(dir, cfg.Stage.Download.File, string(job.Organism), cfg.Stage.Ext, cfg.DownloadInterval, cfg.DownloadTimeout)
}

func (r *run) runJob(ctx context.Context, job jobs.Job, exp artifact.Expectation) Outcome {
	cfg := r.o.cfg
	def := cfg.Stage
	start := r.o.clock()

	vars := stage.Vars{
		stage.VarQuery:    job.Query.ID,
		stage.VarCode:     job.Query.Code,
		stage.VarOrganism: string(job.Organism),
	}
	if def.OrganismsFrom != "" {
		vars[stage.VarInputPath] = cfg.Layout.ArtifactPath(def.OrganismsFrom, job.Query.ID, string(job.Organism), cfg.SourceExt)
	}

	sess := r.session
	if err := sess.BeginJob(ctx, def.EntryURL, cfg.Renavigate); err != nil {
		return r.o.fail(job, start, err)
	}
	if err := def.Execute(ctx, sess, vars); err != nil {
		return r.o.fail(job, start, err)
	}
	log.Infof("%s: results ready", job)
	if err := exp.Clear(); err != nil {
		return r.o.fail(job, start, err)
	}
	if err := def.ExecuteDownload(ctx, sess, vars); err != nil {
		return r.o.fail(job, start, err)
	}
	if err := r.o.waiter.Await(ctx, exp.ExpectedPath, exp.Timeout); err != nil {
		return r.o.fail(job, start, err)
	}
	if err := r.o.archiver.Archive(exp.ExpectedPath, exp.CanonicalPath); err != nil {
		if errors.Is(err, artifact.ErrArchiveConflict) && cfg.OnConflict == config.ConflictRecord {
			if moved, qErr := r.o.archiver.Quarantine(exp.ExpectedPath, exp.CanonicalPath, r.summary.RunID[:8]); qErr != nil {
				log.Errorf("%s: %v", job, qErr)
			} else {
				log.Warningf("%s: kept existing %s, new download moved to %s", job, exp.CanonicalPath, moved)
			}
		}
		return r.o.fail(job, start, err)
	}
	log.Infof("%s: archived %s", job, exp.CanonicalPath)
	return Outcome{Job: job, Status: StatusArchived, Path: exp.CanonicalPath, Elapsed: r.o.clock().Sub(start)}
}

func (o *Orchestrator) fail(job jobs.Job, start time.Time, err error) Outcome {
	return Outcome{
		Job:     job,
		Status:  StatusFailed,
		Kind:    Classify(err),
		Err:     err,
		Elapsed: o.clock().Sub(start),
	}
}

// report records a failure on disk, logs it and forwards the outcome.
func (o *Orchestrator) report(summary *Summary, outcome Outcome) {
	job := outcome.Job
	if rec, ok := outcome.Failure(); ok {
		switch rec.Kind {
		case jobs.NoResult:
			log.Noticef("%s: %s has no result for %s", job, job.Organism, job.Query.ID)
		case jobs.Unknown:
			log.Errorf("%s: unknown failure: %s", job, eris.ToString(outcome.Err, true))
		default:
			log.Warningf("%s: %s: %s", job, rec.Kind, rec.Detail)
		}
		if err := o.archiver.RecordFailure(rec); err != nil {
			log.Errorf("%s: record %s: %v", job, rec.Kind, err)
		}
	}
	summary.add(outcome)
	o.observer.JobFinished(outcome)
}
