package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/logging"
)

// ErrCircularMessage is the exact failure text reported when prerequisite
// resolution encounters a cycle.
const ErrCircularMessage = "Circular dependency detected"

// RunFunc executes one cell's code. A nil return marks the cell successful;
// an error halts the chain.
type RunFunc func(ctx context.Context) error

// Result reports the outcome of a prerequisite chain run.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CellInfo is a read-only snapshot of one registered cell.
type CellInfo struct {
	ID            string   `json:"id"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Status        Status   `json:"status"`
	Count         int      `json:"execution_count"`
	LastError     string   `json:"last_error,omitempty"`
}

type cell struct {
	id        string
	run       RunFunc
	prereqs   []string
	status    Status
	count     int
	lastError string
}

// Config defines scheduler construction parameters.
type Config struct {
	// ForceRerun disables the skip-already-successful optimization: every
	// cell in a resolved chain re-runs regardless of prior status.
	ForceRerun bool
	Logger     *logging.Logger
}

// Scheduler owns the cell registry and status machine. Chains are
// serialized: only one RunWithPrerequisites executes at a time, which is
// what keeps the shared runtime namespace free of concurrent mutation.
type Scheduler struct {
	log *logging.Logger

	runMu sync.Mutex // serializes chains end to end

	mu       sync.Mutex
	cells    map[string]*cell
	force    bool
	sinks    map[int]Sink
	nextSink int
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Scheduler{
		log:   cfg.Logger.Component("scheduler"),
		cells: make(map[string]*cell),
		force: cfg.ForceRerun,
		sinks: make(map[int]Sink),
	}
}

// Register adds a cell or replaces an existing registration with a fresh
// idle one (cells re-register when their documentation section remounts).
func (s *Scheduler) Register(id string, run RunFunc, prerequisites []string) error {
	if id == "" {
		return fmt.Errorf("cell id cannot be empty")
	}
	if run == nil {
		return fmt.Errorf("cell %s: run function cannot be nil", id)
	}

	s.mu.Lock()
	s.cells[id] = &cell{
		id:      id,
		run:     run,
		prereqs: append([]string(nil), prerequisites...),
		status:  StatusIdle,
	}
	s.mu.Unlock()
	return nil
}

// Unregister removes a cell from future resolution. An already-dispatched
// run is not aborted.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	delete(s.cells, id)
	s.mu.Unlock()
}

// Subscribe adds a status sink and returns its unsubscribe function.
func (s *Scheduler) Subscribe(sink Sink) func() {
	s.mu.Lock()
	key := s.nextSink
	s.nextSink++
	s.sinks[key] = sink
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.sinks, key)
		s.mu.Unlock()
	}
}

// SetForceRerun toggles the force re-run prerequisites setting.
func (s *Scheduler) SetForceRerun(force bool) {
	s.mu.Lock()
	s.force = force
	s.mu.Unlock()
}

// ForceRerun reports the current setting.
func (s *Scheduler) ForceRerun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.force
}

// Status returns a cell's current status.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		return "", false
	}
	return c.status, true
}

// ExecutionCount returns how many times a cell has run successfully.
func (s *Scheduler) ExecutionCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cells[id]; ok {
		return c.count
	}
	return 0
}

// Cells returns a sorted snapshot of all registered cells.
func (s *Scheduler) Cells() []CellInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CellInfo, 0, len(s.cells))
	for _, c := range s.cells {
		out = append(out, CellInfo{
			ID:            c.id,
			Prerequisites: append([]string(nil), c.prereqs...),
			Status:        c.status,
			Count:         c.count,
			LastError:     c.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResetAll sets every registered cell back to idle with execution count 0.
// The runtime namespace is untouched; callers pair this with the bridge's
// Reset.
func (s *Scheduler) ResetAll() {
	s.mu.Lock()
	events := make([]Event, 0, len(s.cells))
	for _, c := range s.cells {
		c.status = StatusIdle
		c.count = 0
		c.lastError = ""
		events = append(events, Event{CellID: c.id, Status: StatusIdle, Time: time.Now()})
	}
	sinks := s.snapshotSinksLocked()
	s.mu.Unlock()

	for _, ev := range events {
		publish(sinks, ev)
	}
}

// RunWithPrerequisites resolves the transitive prerequisite chain for id
// and executes it serially, fail-fast. Cycles are reported before anything
// runs; already-successful cells are skipped unless force re-run is on.
func (s *Scheduler) RunWithPrerequisites(ctx context.Context, id string) Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if _, ok := s.cells[id]; !ok {
		s.mu.Unlock()
		return Result{Success: false, Error: fmt.Sprintf("unknown cell: %s", id)}
	}

	order, err := s.resolveOrderLocked(id)
	if err != nil {
		s.mu.Unlock()
		return Result{Success: false, Error: err.Error()}
	}

	force := s.force
	var chain []step
	for _, cellID := range order {
		c := s.cells[cellID]
		if !force && c.status == StatusSuccess && cellID != id {
			continue
		}
		chain = append(chain, step{id: cellID, run: c.run})
	}

	var events []Event
	for _, st := range chain {
		c := s.cells[st.id]
		c.status = StatusPending
		events = append(events, Event{CellID: st.id, Status: StatusPending, Time: time.Now()})
	}
	sinks := s.snapshotSinksLocked()
	s.mu.Unlock()

	for _, ev := range events {
		publish(sinks, ev)
	}

	for i, st := range chain {
		if err := ctx.Err(); err != nil {
			s.abortQueuedFrom(chain[i:], sinks)
			return Result{Success: false, Error: err.Error()}
		}

		s.transition(st.id, StatusRunning, "", sinks)

		runErr := st.run(ctx)
		if runErr != nil {
			s.transition(st.id, StatusError, runErr.Error(), sinks)
			s.abortQueuedFrom(chain[i+1:], sinks)
			s.log.Debug("chain halted",
				zap.String("cell", st.id), zap.Error(runErr))
			return Result{Success: false, Error: fmt.Sprintf("cell %s: %v", st.id, runErr)}
		}

		s.transition(st.id, StatusSuccess, "", sinks)
	}

	return Result{Success: true}
}

// step is one dispatchable entry of a resolved chain, captured while the
// registry lock is held so unregistration cannot race the dispatch.
type step struct {
	id  string
	run RunFunc
}

// resolveOrderLocked computes the depth-first prerequisite order for id,
// deepest first, id last. Nodes on the current path flag a cycle; finished
// nodes are skipped. Prerequisite ids that are no longer registered are
// dropped from resolution.
func (s *Scheduler) resolveOrderLocked(id string) ([]string, error) {
	var order []string
	onPath := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(string) error
	visit = func(n string) error {
		if visited[n] {
			return nil
		}
		if onPath[n] {
			return fmt.Errorf("%s", ErrCircularMessage)
		}

		c, ok := s.cells[n]
		if !ok {
			s.log.Warn("prerequisite not registered, skipping", zap.String("cell", n))
			visited[n] = true
			return nil
		}

		onPath[n] = true
		for _, p := range c.prereqs {
			if err := visit(p); err != nil {
				return err
			}
		}
		onPath[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}

// transition updates one cell's status and publishes the event. Cells
// unregistered mid-chain are skipped.
func (s *Scheduler) transition(id string, status Status, errMsg string, sinks []Sink) {
	s.mu.Lock()
	c, ok := s.cells[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.status = status
	c.lastError = errMsg
	if status == StatusSuccess {
		c.count++
	}
	ev := Event{CellID: id, Status: status, Error: errMsg, Count: c.count, Time: time.Now()}
	s.mu.Unlock()

	publish(sinks, ev)
}

// abortQueuedFrom returns still-pending cells to idle after a chain halt.
func (s *Scheduler) abortQueuedFrom(rest []step, sinks []Sink) {
	for _, st := range rest {
		s.mu.Lock()
		c, ok := s.cells[st.id]
		if ok && c.status == StatusPending {
			c.status = StatusIdle
			ev := Event{CellID: st.id, Status: StatusIdle, Count: c.count, Time: time.Now()}
			s.mu.Unlock()
			publish(sinks, ev)
			continue
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) snapshotSinksLocked() []Sink {
	out := make([]Sink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		out = append(out, sink)
	}
	return out
}

func publish(sinks []Sink, ev Event) {
	for _, sink := range sinks {
		sink.Publish(ev)
	}
}
