package stage

import (
	"context"
	"fmt"

	"github.com/kingrea/automega/internal/surface"
)

// Execute runs the job script against s. The session must have begun a job.
func (def Definition) Execute(ctx context.Context, s *surface.Session, vars Vars) error {
	return runSteps(ctx, s, def.ID, "step", def.Steps, vars)
}

// ExecuteDownload runs the download script that makes the service save File.
func (def Definition) ExecuteDownload(ctx context.Context, s *surface.Session, vars Vars) error {
	return runSteps(ctx, s, def.ID, "download step", def.Download.Steps, vars)
}

func runSteps(ctx context.Context, s *surface.Session, id, label string, steps []Step, vars Vars) error {
	for idx, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := Run(ctx, s, step, vars); err != nil {
			return fmt.Errorf("stage %s %s[%d] %s: %w", id, label, idx, step.Action, err)
		}
	}
	return nil
}

// Run performs one step.
func Run(ctx context.Context, s *surface.Session, step Step, vars Vars) error {
	locator := vars.Expand(step.Locator)
	value := vars.Expand(step.Value)
	switch step.Action {
	case ActionAwait:
		return s.AwaitPresence(ctx, locator, step.Timeout)
	case ActionFill:
		return s.FillField(ctx, locator, value)
	case ActionPick:
		return s.AssistedPick(ctx, locator, value, vars.Expand(step.Suggestion))
	case ActionUpload:
		return s.Upload(ctx, locator, value)
	case ActionSubmit:
		return s.Submit(ctx, locator)
	case ActionResults:
		return s.AwaitResults(ctx, locator, step.Timeout)
	case ActionClick:
		return s.Click(ctx, locator)
	case ActionScroll:
		return s.ScrollToBottom(ctx)
	default:
		return fmt.Errorf("stage: unknown action %q", step.Action)
	}
}
