package notebook

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/bridge"
	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/scheduler"
)

// Runner registers manifest cells with the scheduler and retains each
// cell's most recent execution result for the presentation surfaces.
type Runner struct {
	bridge *bridge.Bridge
	sched  *scheduler.Scheduler
	log    *logging.Logger

	mu      sync.RWMutex
	results map[string]*bridge.ExecutionResult
}

// NewRunner creates a runner over one bridge/scheduler pair.
func NewRunner(b *bridge.Bridge, s *scheduler.Scheduler, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NewNop()
	}
	return &Runner{
		bridge:  b,
		sched:   s,
		log:     log.Component("notebook"),
		results: make(map[string]*bridge.ExecutionResult),
	}
}

// RegisterManifest registers every cell of the manifest.
func (r *Runner) RegisterManifest(m *Manifest) error {
	for _, spec := range m.Cells {
		if err := r.sched.Register(spec.ID, r.runFunc(spec), spec.Needs); err != nil {
			return err
		}
	}
	r.log.Info("manifest registered",
		zap.String("manifest", m.ID), zap.Int("cells", len(m.Cells)))
	return nil
}

// runFunc builds the cell run function: execute through the bridge, retain
// the result, and surface a user-code failure as a chain-halting error.
func (r *Runner) runFunc(spec CellSpec) scheduler.RunFunc {
	code := spec.Code
	cellID := spec.ID

	return func(ctx context.Context) error {
		res, err := r.bridge.Execute(ctx, code)
		if err != nil {
			// Transport failure: no result to retain.
			return err
		}

		r.mu.Lock()
		r.results[cellID] = res
		r.mu.Unlock()

		if res.Error != nil {
			return errors.New(res.Error.Message)
		}
		return nil
	}
}

// Run executes one cell and its prerequisite chain.
func (r *Runner) Run(ctx context.Context, cellID string) scheduler.Result {
	return r.sched.RunWithPrerequisites(ctx, cellID)
}

// Result returns the retained result of a cell's latest execution.
func (r *Runner) Result(cellID string) (*bridge.ExecutionResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[cellID]
	return res, ok
}

// Reset clears retained results and returns every cell to idle, then
// resets the runtime namespace.
func (r *Runner) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.results = make(map[string]*bridge.ExecutionResult)
	r.mu.Unlock()

	r.sched.ResetAll()
	return r.bridge.Reset(ctx)
}
