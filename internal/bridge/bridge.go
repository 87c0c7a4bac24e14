package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/protocol"
	"github.com/gridsim/notebook/internal/runtime"
	"github.com/gridsim/notebook/internal/shared/id"
)

var (
	// ErrTerminated reports that the bridge was force-stopped while the
	// caller was waiting. The environment is gone; re-initialize before
	// further use.
	ErrTerminated = errors.New("bridge terminated")

	// ErrInitTimeout reports that worker spin-up exceeded its budget.
	ErrInitTimeout = errors.New("runtime init timed out")
)

// ExecError carries a user-code failure.
type ExecError struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// ExecutionResult is produced exactly once per Execute call by
// concatenating accumulated fragments at settlement time. Wire surfaces
// expose the duration in milliseconds; see DurationMS.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Figures  []string      `json:"figures,omitempty"`
	Value    string        `json:"value,omitempty"`
	Error    *ExecError    `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// DurationMS returns the execution duration in whole milliseconds.
func (r *ExecutionResult) DurationMS() int64 {
	return r.Duration.Milliseconds()
}

// MarshalJSON renders the duration as milliseconds for wire surfaces.
func (r *ExecutionResult) MarshalJSON() ([]byte, error) {
	type alias ExecutionResult
	return sonic.Marshal(struct {
		*alias
		DurationMS int64 `json:"duration_ms"`
	}{(*alias)(r), r.DurationMS()})
}

// Config defines bridge construction parameters.
type Config struct {
	InitTimeout time.Duration
	ExecTimeout time.Duration
	Packages    []runtime.Package
	Loader      runtime.Loader
	Logger      *logging.Logger
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateLoading
	stateReady
)

// pending tracks one in-flight execution, keyed by its id. Created when
// Execute is called, destroyed when the terminal message arrives or the
// timeout fires, whichever is first.
type pending struct {
	stdout  strings.Builder
	stderr  strings.Builder
	figures []string
	start   time.Time
	result  *ExecutionResult // set under the bridge mutex before done closes
	done    chan struct{}
}

// Bridge correlates concurrent requests against one runtime host. Construct
// with New, tear down with Terminate; instances are independent, so tests
// can run several side by side.
type Bridge struct {
	cfg Config
	log *logging.Logger

	mu           sync.Mutex
	state        lifecycle
	host         *runtime.Host
	closed       chan struct{} // closed exactly once per host generation
	initDone     chan struct{}
	initErr      error
	pending      map[string]*pending
	resetWaiters []chan struct{}
	progress     func(string)
}

// New creates a bridge. The worker is not spun up until Init or the first
// Execute.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 2 * time.Minute
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = time.Minute
	}

	return &Bridge{
		cfg:     cfg,
		log:     cfg.Logger.Component("bridge"),
		pending: make(map[string]*pending),
	}
}

// OnProgress registers a subscriber for init-time progress messages. UI
// feedback only; no effect on control flow.
func (b *Bridge) OnProgress(fn func(string)) {
	b.mu.Lock()
	b.progress = fn
	b.mu.Unlock()
}

// Ready reports whether the runtime host is initialized.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateReady
}

// Init spins up the runtime host and blocks until it reports ready.
// Idempotent: if already initialized it returns immediately, and concurrent
// callers share a single in-flight spin-up rather than starting a second
// worker.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case stateReady:
		b.mu.Unlock()
		return nil

	case stateLoading:
		done := b.initDone
		b.mu.Unlock()
		select {
		case <-done:
			return b.initResult()
		case <-ctx.Done():
			return ctx.Err()
		}

	default: // stateIdle
	}

	host := runtime.New(runtime.Config{
		Packages: b.cfg.Packages,
		Loader:   b.cfg.Loader,
		Logger:   b.cfg.Logger,
	})
	closed := make(chan struct{})
	done := make(chan struct{})

	b.host = host
	b.closed = closed
	b.initDone = done
	b.initErr = nil
	b.state = stateLoading
	b.mu.Unlock()

	host.Start()
	go b.dispatch(host, closed)

	select {
	case host.Requests() <- protocol.Request{Kind: protocol.RequestInit}:
	case <-closed:
		return ErrTerminated
	case <-ctx.Done():
		b.failInit(ctx.Err())
		return ctx.Err()
	}

	timer := time.NewTimer(b.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return b.initResult()
	case <-timer.C:
		b.failInit(fmt.Errorf("%w after %s", ErrInitTimeout, b.cfg.InitTimeout))
		return b.initResult()
	case <-ctx.Done():
		b.failInit(ctx.Err())
		return ctx.Err()
	}
}

func (b *Bridge) initResult() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initErr
}

// failInit tears down the current host generation and records the failure
// for every caller sharing the in-flight init.
func (b *Bridge) failInit(err error) {
	b.mu.Lock()
	if b.state != stateLoading {
		b.mu.Unlock()
		return
	}
	b.initErr = err
	host, closed, done := b.host, b.closed, b.initDone
	b.host = nil
	b.closed = nil
	b.state = stateIdle
	b.pending = make(map[string]*pending)
	b.resetWaiters = nil
	b.mu.Unlock()

	if host != nil {
		host.Stop()
	}
	if closed != nil {
		close(closed)
	}
	close(done)
}

// Execute runs code in the persistent namespace and returns the accumulated
// result. Init is called internally, so callers never sequence it manually.
// A user-code error or an execution timeout still returns a result; the
// error return is reserved for transport failures.
func (b *Bridge) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	if err := b.Init(ctx); err != nil {
		return nil, err
	}

	execID := id.NewExecutionID().String()
	p := &pending{start: time.Now(), done: make(chan struct{})}

	b.mu.Lock()
	if b.state != stateReady {
		b.mu.Unlock()
		return nil, ErrTerminated
	}
	host, closed := b.host, b.closed
	b.pending[execID] = p
	b.mu.Unlock()

	req := protocol.Request{Kind: protocol.RequestExec, ID: execID, Code: code}
	select {
	case host.Requests() <- req:
	case <-closed:
		b.dropPending(execID)
		return nil, ErrTerminated
	case <-ctx.Done():
		b.dropPending(execID)
		return nil, ctx.Err()
	}

	timer := time.NewTimer(b.cfg.ExecTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result, nil

	case <-timer.C:
		// Discard the record so late messages for this id are ignored; the
		// worker is not interrupted and may keep running in the background.
		b.mu.Lock()
		if _, stillPending := b.pending[execID]; !stillPending {
			b.mu.Unlock()
			// Either a terminal message settled the record (its result is
			// authoritative), or a racing Terminate discarded the map
			// without settling; the generation's closed channel tells the
			// two apart, and p.done alone would hang on the latter. A
			// settled result wins if both raced in.
			select {
			case <-p.done:
				return p.result, nil
			default:
			}
			select {
			case <-p.done:
				return p.result, nil
			case <-closed:
				return nil, ErrTerminated
			}
		}
		delete(b.pending, execID)
		b.mu.Unlock()

		b.log.Warn("execution timed out",
			zap.String("execution_id", execID),
			zap.Duration("timeout", b.cfg.ExecTimeout))

		return &ExecutionResult{
			Stdout:  p.stdout.String(),
			Stderr:  p.stderr.String(),
			Figures: p.figures,
			Error: &ExecError{
				Message: fmt.Sprintf("execution timed out after %s", b.cfg.ExecTimeout),
			},
			Duration: time.Since(p.start),
		}, nil

	case <-closed:
		return nil, ErrTerminated

	case <-ctx.Done():
		b.dropPending(execID)
		return nil, ctx.Err()
	}
}

// Reset clears the runtime namespace while keeping the worker alive.
// Standard bindings survive; user-defined ones do not.
func (b *Bridge) Reset(ctx context.Context) error {
	if err := b.Init(ctx); err != nil {
		return err
	}

	waiter := make(chan struct{})
	b.mu.Lock()
	if b.state != stateReady {
		b.mu.Unlock()
		return ErrTerminated
	}
	host, closed := b.host, b.closed
	b.resetWaiters = append(b.resetWaiters, waiter)
	b.mu.Unlock()

	select {
	case host.Requests() <- protocol.Request{Kind: protocol.RequestReset}:
	case <-closed:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}

	timer := time.NewTimer(b.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return nil
	case <-timer.C:
		return fmt.Errorf("reset timed out after %s", b.cfg.InitTimeout)
	case <-closed:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate force-stops the worker, clears all pending records, and resets
// the lifecycle to uninitialized. Callers blocked in Execute observe
// ErrTerminated.
func (b *Bridge) Terminate() {
	b.mu.Lock()
	host, closed := b.host, b.closed
	wasLoading := b.state == stateLoading
	done := b.initDone
	b.host = nil
	b.closed = nil
	b.state = stateIdle
	b.pending = make(map[string]*pending)
	b.resetWaiters = nil
	if wasLoading {
		b.initErr = ErrTerminated
	}
	b.mu.Unlock()

	if host != nil {
		host.Stop()
	}
	if closed != nil {
		close(closed)
	}
	if wasLoading && done != nil {
		close(done)
	}

	b.log.Info("bridge terminated")
}

func (b *Bridge) dropPending(execID string) {
	b.mu.Lock()
	delete(b.pending, execID)
	b.mu.Unlock()
}

// dispatch routes every inbound message for one host generation. Stream
// messages append to their pending record or are dropped if the record is
// gone (timed out or unknown); terminal messages settle and delete it.
func (b *Bridge) dispatch(host *runtime.Host, closed chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case resp := <-host.Responses():
			b.route(resp)
		}
	}
}

func (b *Bridge) route(resp protocol.Response) {
	switch resp.Kind {
	case protocol.ResponseProgress:
		b.mu.Lock()
		fn := b.progress
		b.mu.Unlock()
		if fn != nil {
			fn(resp.Message)
		}

	case protocol.ResponseReady:
		b.handleReady()

	case protocol.ResponseStdout:
		b.appendStream(resp.ID, func(p *pending) { p.stdout.WriteString(resp.Text) })

	case protocol.ResponseStderr:
		b.appendStream(resp.ID, func(p *pending) { p.stderr.WriteString(resp.Text) })

	case protocol.ResponseFigure:
		b.appendStream(resp.ID, func(p *pending) { p.figures = append(p.figures, resp.Data) })

	case protocol.ResponseResult:
		b.settle(resp.ID, func(p *pending, res *ExecutionResult) {
			res.Value = resp.Value
		})

	case protocol.ResponseError:
		if resp.Global() {
			b.failInit(errors.New(resp.Message))
			return
		}
		b.settle(resp.ID, func(p *pending, res *ExecutionResult) {
			res.Error = &ExecError{Message: resp.Message, Traceback: resp.Traceback}
		})
	}
}

func (b *Bridge) handleReady() {
	b.mu.Lock()
	if b.state == stateLoading {
		b.state = stateReady
		b.initErr = nil
		done := b.initDone
		b.mu.Unlock()
		close(done)
		b.log.Info("runtime ready")
		return
	}
	waiters := b.resetWaiters
	b.resetWaiters = nil
	b.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

func (b *Bridge) appendStream(execID string, apply func(*pending)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[execID]
	if !ok {
		// Already timed out or unknown id: drop silently.
		return
	}
	apply(p)
}

// settle resolves a pending record at most once: the record is deleted
// under the mutex, so a racing timeout cannot produce a second result.
func (b *Bridge) settle(execID string, apply func(*pending, *ExecutionResult)) {
	b.mu.Lock()
	p, ok := b.pending[execID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, execID)

	res := &ExecutionResult{
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
		Figures:  p.figures,
		Duration: time.Since(p.start),
	}
	apply(p, res)
	p.result = res
	b.mu.Unlock()

	close(p.done)
}
