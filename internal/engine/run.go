package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"golang.org/x/sync/errgroup"
)

// RunOptions selects what a run does.
type RunOptions struct {
	// Select restricts the run to these entities. Empty runs all of them.
	Select []string
	// DryRun extracts and validates without writing to the destination.
	// Foreign keys are checked against this run's outputs, so the upstream
	// entities of the selection are extracted as well.
	DryRun bool
}

// runState is shared by the goroutines of one run.
type runState struct {
	runID  string
	dryRun bool

	mu      sync.Mutex
	outputs map[string]frame.Table
	failed  map[string]bool
	skipped map[string]bool
	errs    []error
}

func (s *runState) output(entity string) (frame.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.outputs[entity]
	return t, ok
}

func (s *runState) succeed(entity string, t frame.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[entity] = t
}

func (s *runState) fail(entity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[entity] = true
	s.errs = append(s.errs, err)
}

// Run extracts the selected entities level by level. Entities of a level
// run concurrently; a failure does not stop its siblings but every entity
// downstream of it is skipped. All entity errors are joined.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*core.Run, error) {
	entities, err := e.plan(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	e.logger.Info("pipeline started",
		slog.String("environment", e.cfg.Environment),
		slog.Any("entities", entities),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("memory_alert_threshold_mb", e.cfg.Monitoring.Threshold()))

	run, err := e.store.CreateRun(e.cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	runErr := e.execute(ctx, run.ID, entities, opts.DryRun)

	duration := time.Since(start)
	if runErr != nil {
		e.logger.Error("pipeline failed",
			slog.String("run_id", run.ID),
			slog.Duration("duration", duration),
			slog.String("error", runErr.Error()))
		e.completeRun(run.ID, core.RunStatusFailed, runErr.Error())
	} else {
		e.logger.Info("pipeline finished",
			slog.String("run_id", run.ID),
			slog.Duration("duration", duration))
		e.completeRun(run.ID, core.RunStatusCompleted, "")
	}

	if got, err := e.store.GetRun(run.ID); err == nil {
		run = got
	}
	return run, runErr
}

func (e *Engine) completeRun(id string, status core.RunStatus, msg string) {
	if err := e.store.CompleteRun(id, status, msg); err != nil {
		e.logger.Warn("failed to complete run",
			slog.String("run_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
}

// plan returns the entities a run processes.
func (e *Engine) plan(opts RunOptions) ([]string, error) {
	if len(opts.Select) == 0 {
		return e.graph.Nodes(), nil
	}

	var unknown []string
	for _, name := range opts.Select {
		if !e.graph.HasNode(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown entities %v (known: %v)", unknown, core.Entities)
	}

	selected := append([]string(nil), opts.Select...)
	if opts.DryRun {
		selected = append(selected, e.graph.Upstream(opts.Select...)...)
	}
	return e.graph.Subgraph(selected).Nodes(), nil
}

func (e *Engine) execute(ctx context.Context, runID string, entities []string, dryRun bool) error {
	frames, err := e.ensureSource(ctx)
	if err != nil {
		return err
	}
	if !dryRun {
		if _, err := e.ensureDestination(ctx); err != nil {
			return err
		}
	}

	levels, err := e.graph.Subgraph(entities).Levels()
	if err != nil {
		return err
	}

	st := &runState{
		runID:   runID,
		dryRun:  dryRun,
		outputs: make(map[string]frame.Table),
		failed:  make(map[string]bool),
		skipped: make(map[string]bool),
	}

	for _, level := range levels {
		var g errgroup.Group
		g.SetLimit(e.cfg.Parallelism)

		for _, entity := range level {
			if st.skipped[entity] {
				continue
			}
			g.Go(func() error {
				if err := e.runEntity(ctx, frames, st, entity); err != nil {
					st.fail(entity, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		e.skipDownstream(st, entities)
	}

	return errors.Join(st.errs...)
}

// skipDownstream marks and records every planned entity downstream of a
// failed or skipped one.
func (e *Engine) skipDownstream(st *runState, planned []string) {
	inPlan := make(map[string]bool, len(planned))
	for _, p := range planned {
		inPlan[p] = true
	}

	var broken []string
	for name := range st.failed {
		broken = append(broken, name)
	}
	sort.Strings(broken)

	for _, name := range e.graph.Downstream(broken...) {
		if !inPlan[name] || st.skipped[name] || st.failed[name] {
			continue
		}
		if _, done := st.output(name); done {
			continue
		}
		st.skipped[name] = true

		culprits := e.failedUpstream(st, name)
		e.logger.Warn("entity skipped",
			slog.String("entity", name),
			slog.Any("failed_upstream", culprits))

		now := time.Now().UTC()
		_ = e.store.RecordEntityRun(&core.EntityRun{
			RunID:       st.runID,
			Entity:      name,
			Status:      core.EntityRunStatusSkipped,
			StartedAt:   now,
			CompletedAt: now,
			Error:       fmt.Sprintf("skipped: upstream %v failed", culprits),
		})
	}
}

func (e *Engine) failedUpstream(st *runState, entity string) []string {
	var out []string
	for _, up := range e.graph.Upstream(entity) {
		if st.failed[up] {
			out = append(out, up)
		}
	}
	return out
}
