package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/automega/internal/artifact"
	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/jobs"
	"github.com/kingrea/automega/internal/stage"
	"github.com/kingrea/automega/internal/surface"
	"github.com/kingrea/automega/internal/surface/surfacetest"
)

const (
	entryURL    = "https://search.example/blast"
	seqField    = `//textarea[@id="seq"]`
	orgField    = `//input[@id="qorganism"]`
	suggestion  = `//li[@role="menuitem"]`
	runButton   = `//input[@class="blastbutton"]`
	resultsPane = `//main[@class="results"]`
	downloadBtn = `//button[@id="download"]`
	rawName     = "seqdump.txt"
)

var blastStage = stage.Definition{
	ID:       "blast",
	EntryURL: entryURL,
	Ext:      ".txt",
	Steps: []stage.Step{
		{Action: stage.ActionAwait, Locator: seqField},
		{Action: stage.ActionFill, Locator: seqField, Value: "{{code}}"},
		{Action: stage.ActionPick, Locator: orgField, Value: "{{organism}}", Suggestion: suggestion},
		{Action: stage.ActionSubmit, Locator: runButton},
		{Action: stage.ActionResults, Locator: resultsPane},
	},
	Download: stage.Download{
		File:  rawName,
		Steps: []stage.Step{{Action: stage.ActionClick, Locator: downloadBtn}},
	},
}

// blastPage scripts the remote service. Organism names pick the behaviour:
// Frog has no hits, Unknownia gets no suggestion, Slowpoke never delivers
// its download and Crash breaks the page.
func blastPage(d *surfacetest.Driver) {
	var code, organism string
	d.Set(seqField, surfacetest.Element{OnType: func(_ *surfacetest.Driver, text string) { code = text }})
	d.Set(orgField, surfacetest.Element{OnType: func(d *surfacetest.Driver, text string) {
		organism = text
		if text != "Unknownia" {
			d.Set(suggestion, surfacetest.Element{})
		}
	}})
	d.Set(runButton, surfacetest.Element{OnClick: func(d *surfacetest.Driver) error {
		if organism == "Crash" {
			return errors.New("renderer crashed")
		}
		d.Set(resultsPane, surfacetest.Element{})
		d.Set(downloadBtn, surfacetest.Element{
			Hidden: organism == "Frog",
			OnClick: func(d *surfacetest.Driver) error {
				if organism != "Slowpoke" {
					d.Download(rawName, ">"+code+" "+organism+"\n", 0)
				}
				return nil
			},
		})
		return nil
	}})
}

type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []Outcome
	summary  Summary
	err      error
	onFinish func(Outcome)
}

func (r *recorder) BatchStarted(string, int) {}

func (r *recorder) JobStarted(job jobs.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, job.String())
}

func (r *recorder) JobFinished(o Outcome) {
	r.mu.Lock()
	r.finished = append(r.finished, o)
	hook := r.onFinish
	r.mu.Unlock()
	if hook != nil {
		hook(o)
	}
}

func (r *recorder) BatchFinished(s Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = s
	r.err = err
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.finished))
	for _, o := range r.finished {
		out = append(out, o.Job.String())
	}
	return out
}

func testConfig(root string, opener surface.Opener) Config {
	return Config{
		Stage:  blastStage,
		Layout: config.Layout{Root: root},
		Opener: opener,
		Session: surface.Options{
			PresenceTimeout: 100 * time.Millisecond,
			ResultsTimeout:  200 * time.Millisecond,
			Settle:          time.Millisecond,
			PollInterval:    5 * time.Millisecond,
		},
		DownloadInterval: 5 * time.Millisecond,
		DownloadTimeout:  100 * time.Millisecond,
		SessionPolicy:    config.SessionPerQuery,
		Renavigate:       true,
		SkipExisting:     true,
		RecycleOnUnknown: true,
		OnConflict:       config.ConflictRecord,
	}
}

func newOpener() *surfacetest.Opener {
	return &surfacetest.Opener{Pages: map[string]surfacetest.Page{entryURL: blastPage}}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMouseArchivedFrogRecordedAsNoResult(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	orch, err := New(testConfig(root, newOpener()), WithObserver(rec))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "MKTAYIAK"}},
		[]jobs.Organism{"Mouse", "Frog"})
	require.NoError(t, err)

	assert.Equal(t, ">MKTAYIAK Mouse\n", readFile(t, filepath.Join(root, "blast", "Q1", "Mouse.txt")))
	assert.Equal(t, "Frog\n", readFile(t, filepath.Join(root, "blast", "Q1 - NoResult.txt")))
	_, err = os.Stat(filepath.Join(root, "blast", "Q1", "Frog.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "blast", "Q1", rawName))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Archived)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.ByKind[jobs.NoResult])
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, summary, rec.summary)
	require.Len(t, rec.finished, 2)
	assert.Equal(t, StatusArchived, rec.finished[0].Status)
	assert.Equal(t, jobs.NoResult, rec.finished[1].Kind)
}

func TestRepeatedOrganismIsSubmittedOnce(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	orch, err := New(testConfig(root, newOpener()), WithObserver(rec))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "AAA"}},
		[]jobs.Organism{"Mouse", "Frog", "Frog"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, []string{"Q1-Mouse", "Q1-Frog"}, rec.order())
	assert.Equal(t, "Frog\n", readFile(t, filepath.Join(root, "blast", "Q1 - NoResult.txt")))
}

func TestJobsFinishInMatrixOrderWithOneSessionPerQuery(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	opener := newOpener()
	orch, err := New(testConfig(root, opener), WithObserver(rec))
	require.NoError(t, err)

	_, err = orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "AAA"}, {ID: "Q2", Code: "CCC"}},
		[]jobs.Organism{"Mouse", "Frog", "Rat"})
	require.NoError(t, err)

	want := []string{"Q1-Mouse", "Q1-Frog", "Q1-Rat", "Q2-Mouse", "Q2-Frog", "Q2-Rat"}
	assert.Equal(t, want, rec.started)
	assert.Equal(t, want, rec.order())

	drivers := opener.Drivers()
	require.Len(t, drivers, 2)
	for _, d := range drivers {
		assert.True(t, d.Closed())
	}
	assert.Equal(t, ">CCC Rat\n", readFile(t, filepath.Join(root, "blast", "Q2", "Rat.txt")))
	assert.Equal(t, "Frog\n", readFile(t, filepath.Join(root, "blast", "Q2 - NoResult.txt")))
}

func TestReusedSessionFollowsEachQueryDirectory(t *testing.T) {
	root := t.TempDir()
	opener := newOpener()
	cfg := testConfig(root, opener)
	cfg.SessionPolicy = config.SessionReuse
	cfg.Renavigate = false
	_, err := New(cfg)
	require.Error(t, err, "a leading await would run against the previous results page")

	// Without the leading await the fill step locates the field on whatever
	// page is loaded, which the single-page fake keeps around.
	cfg.Stage = blastStage.Clone()
	cfg.Stage.Steps = cfg.Stage.Steps[1:]
	orch, err := New(cfg)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "AAA"}, {ID: "Q2", Code: "CCC"}},
		[]jobs.Organism{"Mouse", "Rat"})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Archived)

	drivers := opener.Drivers()
	require.Len(t, drivers, 1)
	var retargets, navigations int
	for _, call := range drivers[0].Calls() {
		switch call.Op {
		case "download-dir":
			retargets++
			assert.Equal(t, filepath.Join(root, "blast", "Q2"), call.Arg)
		case "navigate":
			navigations++
		}
	}
	assert.Equal(t, 1, retargets)
	assert.Equal(t, 1, navigations, "later jobs reuse the loaded page")
	assert.Equal(t, ">CCC Rat\n", readFile(t, filepath.Join(root, "blast", "Q2", "Rat.txt")))
}

func TestEachFailureKindIsRecordedAndTheBatchContinues(t *testing.T) {
	root := t.TempDir()
	opener := newOpener()
	orch, err := New(testConfig(root, opener))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "AAA"}},
		[]jobs.Organism{"Unknownia", "Slowpoke", "Crash", "Mouse"})
	require.NoError(t, err)

	dir := filepath.Join(root, "blast")
	assert.Equal(t, "Unknownia\n", readFile(t, filepath.Join(dir, "Q1 - RemoteTimeout.txt")))
	assert.Equal(t, "Slowpoke\n", readFile(t, filepath.Join(dir, "Q1 - DownloadTimeout.txt")))
	assert.Equal(t, "Crash\n", readFile(t, filepath.Join(dir, "Q1 - Unknown.txt")))
	assert.Equal(t, ">AAA Mouse\n", readFile(t, filepath.Join(dir, "Q1", "Mouse.txt")))
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, summary.Archived)

	assert.Len(t, opener.Drivers(), 2, "unknown failure recycles the session")
}

func TestSkipExistingLeavesArchivedArtifactsAlone(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "blast", "Q1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Mouse.txt"), []byte("old"), 0o644))
	opener := newOpener()
	orch, err := New(testConfig(root, opener))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "Mouse.txt")))
	assert.Empty(t, opener.Drivers(), "no browser for a query with nothing left to do")
}

func TestSessionOpensAtTheFirstJobThatNeedsIt(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "blast", "Q1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Mouse.txt"), []byte("old"), 0o644))
	opener := newOpener()
	orch, err := New(testConfig(root, opener))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(),
		[]jobs.Query{{ID: "Q1", Code: "AAA"}, {ID: "Q2", Code: "CCC"}},
		[]jobs.Organism{"Mouse"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Archived)
	require.Len(t, opener.Drivers(), 1)
	assert.Equal(t, filepath.Join(root, "blast", "Q2"), opener.Drivers()[0].DownloadDir())
}

func TestArchiveConflictQuarantinesTheNewDownload(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "blast", "Q1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Mouse.txt"), []byte("old"), 0o644))
	cfg := testConfig(root, newOpener())
	cfg.SkipExisting = false
	orch, err := New(cfg)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse", "Rat"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ByKind[jobs.ArchiveConflict])
	assert.Equal(t, 1, summary.Archived)
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "Mouse.txt")))
	assert.Equal(t, "Mouse\n", readFile(t, filepath.Join(root, "blast", "Q1 - ArchiveConflict.txt")))

	quarantined, err := filepath.Glob(filepath.Join(dir, "Mouse.*.conflict.txt"))
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, ">AAA Mouse\n", readFile(t, quarantined[0]))
	assert.Equal(t, ">AAA Rat\n", readFile(t, filepath.Join(dir, "Rat.txt")))
}

func TestArchiveConflictAbortStopsTheBatch(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "blast", "Q1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Mouse.txt"), []byte("old"), 0o644))
	cfg := testConfig(root, newOpener())
	cfg.SkipExisting = false
	cfg.OnConflict = config.ConflictAbort
	orch, err := New(cfg)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse", "Rat"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, artifact.ErrArchiveConflict))
	assert.Equal(t, 1, summary.Done())
	_, statErr := os.Stat(filepath.Join(dir, "Rat.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchiveConflictForceReplaces(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "blast", "Q1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Mouse.txt"), []byte("old"), 0o644))
	cfg := testConfig(root, newOpener())
	cfg.SkipExisting = false
	cfg.OnConflict = config.ConflictForce
	orch, err := New(cfg)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse"})
	require.NoError(t, err)
	assert.Equal(t, ">AAA Mouse\n", readFile(t, filepath.Join(dir, "Mouse.txt")))
}

func TestSessionThatCannotOpenFailsTheQueryAsUnknown(t *testing.T) {
	root := t.TempDir()
	opener := &surfacetest.Opener{Err: errors.New("chrome not found")}
	orch, err := New(testConfig(root, opener))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse", "Frog"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ByKind[jobs.Unknown])
	assert.Equal(t, "Mouse\nFrog\n", readFile(t, filepath.Join(root, "blast", "Q1 - Unknown.txt")))
}

func TestCancellationStopsWithoutRecordingTheRest(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onFinish: func(Outcome) { cancel() }}
	orch, err := New(testConfig(root, newOpener()), WithObserver(rec))
	require.NoError(t, err)

	summary, err := orch.Run(ctx, []jobs.Query{{ID: "Q1", Code: "AAA"}}, []jobs.Organism{"Mouse", "Frog"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Done())
	assert.Equal(t, []string{"Q1-Mouse"}, rec.order())
	_, statErr := os.Stat(filepath.Join(root, "blast", "Q1 - NoResult.txt"))
	assert.True(t, os.IsNotExist(statErr))
	assert.ErrorIs(t, rec.err, context.Canceled)
}

const (
	fileInput   = `//input[@type="file"]`
	alignButton = `//input[@value="Execute"]`
	treeForm    = `//form[@name="tree"]`
	dndLink     = `//a[@id="dnd"]`
	alignURL    = "https://align.example/clustalw"
)

func alignPage(d *surfacetest.Driver) {
	d.Set(fileInput, surfacetest.Element{})
	d.Set(alignButton, surfacetest.Element{OnClick: func(d *surfacetest.Driver) error {
		d.Set(treeForm, surfacetest.Element{})
		d.Set(dndLink, surfacetest.Element{OnClick: func(d *surfacetest.Driver) error {
			d.Download("clustalw.dnd", "(tree);\n", 0)
			return nil
		}})
		return nil
	}})
}

func TestStageReadingEarlierResultsUploadsEachArtifact(t *testing.T) {
	root := t.TempDir()
	layout := config.Layout{Root: root}
	src := layout.QueryDir("blastp", "Q1")
	require.NoError(t, os.MkdirAll(src, 0o755))
	for _, name := range []string{"Mouse.txt", "Frog.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(">x\n"), 0o644))
	}

	opener := &surfacetest.Opener{Pages: map[string]surfacetest.Page{alignURL: alignPage}}
	cfg := testConfig(root, opener)
	cfg.Stage = stage.Definition{
		ID:            "clustalw",
		EntryURL:      alignURL,
		Ext:           ".dnd",
		OrganismsFrom: "blastp",
		Steps: []stage.Step{
			{Action: stage.ActionUpload, Locator: fileInput, Value: "{{input_path}}"},
			{Action: stage.ActionSubmit, Locator: alignButton},
			{Action: stage.ActionResults, Locator: treeForm},
		},
		Download: stage.Download{File: "clustalw.dnd", Steps: []stage.Step{{Action: stage.ActionClick, Locator: dndLink}}},
	}
	_, err := New(cfg)
	require.Error(t, err, "source extension is required")
	cfg.SourceExt = ".txt"
	orch, err := New(cfg)
	require.NoError(t, err)

	queries := []jobs.Query{{ID: "Q1", Code: "unused"}}
	plan := orch.Plan(queries, nil)
	require.Len(t, plan, 2)
	assert.Equal(t, jobs.Organism("Frog"), plan[0].Organism)

	summary, err := orch.Run(context.Background(), queries, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Archived)
	assert.Equal(t, "(tree);\n", readFile(t, filepath.Join(root, "clustalw", "Q1", "Mouse.dnd")))

	var uploads []string
	for _, call := range opener.Drivers()[0].Calls() {
		if call.Op == "upload" {
			uploads = append(uploads, call.Arg)
		}
	}
	assert.Equal(t, []string{filepath.Join(src, "Frog.txt"), filepath.Join(src, "Mouse.txt")}, uploads)
}

func TestOutcomeFailureCarriesTheRecord(t *testing.T) {
	job := jobs.Job{Query: jobs.Query{ID: "Q1", Code: "AAA"}, Organism: "Frog"}
	rec, ok := Outcome{Job: job, Status: StatusFailed, Kind: jobs.NoResult, Err: surface.ErrNotFound}.Failure()
	require.True(t, ok)
	assert.Equal(t, jobs.FailureRecord{Job: job, Kind: jobs.NoResult, Detail: surface.ErrNotFound.Error()}, rec)

	_, ok = Outcome{Job: job, Status: StatusArchived}.Failure()
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want jobs.FailureKind
	}{
		{nil, ""},
		{surface.ErrNotFound, jobs.NoResult},
		{surface.ErrNotInteractable, jobs.NoResult},
		{surface.ErrTimeout, jobs.RemoteTimeout},
		{artifact.ErrDownloadTimeout, jobs.DownloadTimeout},
		{artifact.ErrArchiveConflict, jobs.ArchiveConflict},
		{errors.New("boom"), jobs.Unknown},
	}
	for _, tc := range cases {
		var err error
		if tc.err != nil {
			err = errors.Join(errors.New("stage blast step[2] pick"), tc.err)
		}
		assert.Equal(t, tc.want, Classify(err), "%v", tc.err)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{Stage: blastStage, Layout: config.Layout{Root: t.TempDir()}})
	assert.Error(t, err)
	_, err = New(Config{Stage: stage.Definition{ID: "x"}, Opener: newOpener(), Layout: config.Layout{Root: t.TempDir()}})
	assert.Error(t, err)
}
