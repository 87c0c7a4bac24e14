package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/protocol"
)

// Config defines host construction parameters.
type Config struct {
	Packages     []Package
	Loader       Loader
	Logger       *logging.Logger
	ChannelDepth int // request/response buffer size
}

// Host owns the embedded goja runtime and its persistent namespace. All VM
// access happens on the worker goroutine; the only cross-goroutine call is
// goja's Interrupt, which is safe by contract.
type Host struct {
	cfg Config
	log *logging.Logger

	inbound  chan protocol.Request
	outbound chan protocol.Response
	quit     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	vmMu sync.Mutex
	vm   *goja.Runtime

	// Worker-goroutine state. A single slot attributes output because
	// executions are strictly serial; if the host is ever parallelized
	// this must become an explicit per-call tag.
	currentID   string
	figures     []string
	openFigure  *figureBuf
	bundles     map[string][]byte
	bundleOrder []string
	ready       bool
}

// New creates a host. Call Start to launch the worker goroutine.
func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = 64
	}
	if cfg.Loader == nil {
		cfg.Loader = NewLocalLoader("./bundles")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		cfg:      cfg,
		log:      cfg.Logger.Component("host"),
		inbound:  make(chan protocol.Request, cfg.ChannelDepth),
		outbound: make(chan protocol.Response, cfg.ChannelDepth),
		quit:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		bundles:  make(map[string][]byte),
	}
}

// Requests is the controller-to-worker channel.
func (h *Host) Requests() chan<- protocol.Request { return h.inbound }

// Responses is the worker-to-controller channel.
func (h *Host) Responses() <-chan protocol.Response { return h.outbound }

// Start launches the worker goroutine.
func (h *Host) Start() {
	go h.loop()
}

// Stop forcibly terminates the worker. In-flight user code receives a goja
// interrupt and is abandoned; no cooperative shutdown is attempted.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		close(h.quit)
		h.vmMu.Lock()
		if h.vm != nil {
			h.vm.Interrupt("runtime terminated")
		}
		h.vmMu.Unlock()
	})
}

func (h *Host) loop() {
	for {
		select {
		case <-h.quit:
			return
		case req := <-h.inbound:
			if err := req.Validate(); err != nil {
				h.log.Warn("dropping invalid request", zap.Error(err))
				continue
			}
			switch req.Kind {
			case protocol.RequestInit:
				h.handleInit()
			case protocol.RequestExec:
				h.handleExec(req)
			case protocol.RequestReset:
				h.handleReset()
			}
		}
	}
}

// emit sends a response unless the host is stopping.
func (h *Host) emit(resp protocol.Response) {
	select {
	case h.outbound <- resp:
	case <-h.quit:
	}
}

func (h *Host) handleInit() {
	if h.ready {
		h.emit(protocol.Response{Kind: protocol.ResponseReady})
		return
	}

	h.progress("starting runtime")
	h.bootstrap()

	for _, pkg := range h.cfg.Packages {
		h.progress(fmt.Sprintf("installing %s", pkg.Name))
		if err := h.installPackage(pkg); err != nil {
			if pkg.Required {
				h.log.Error("required package install failed",
					zap.String("package", pkg.Name), zap.Error(err))
				h.emit(protocol.Response{
					Kind:    protocol.ResponseError,
					Message: fmt.Sprintf("failed to install required package %s: %v", pkg.Name, err),
				})
				return
			}
			h.log.Warn("optional package skipped",
				zap.String("package", pkg.Name), zap.Error(err))
			h.progress(fmt.Sprintf("skipping optional %s", pkg.Name))
		}
	}

	h.ready = true
	h.progress("runtime ready")
	h.emit(protocol.Response{Kind: protocol.ResponseReady})
}

func (h *Host) installPackage(pkg Package) error {
	src, err := h.cfg.Loader.Load(h.ctx, pkg.Name)
	if err != nil {
		return err
	}
	if _, err := h.vm.RunScript(pkg.Name+".js", string(src)); err != nil {
		return fmt.Errorf("evaluate bundle: %w", err)
	}
	if h.vm.GlobalObject().Get(pkg.ImportName) == nil {
		return fmt.Errorf("bundle did not bind global %q", pkg.ImportName)
	}

	h.bundles[pkg.Name] = src
	h.bundleOrder = append(h.bundleOrder, pkg.Name)
	return nil
}

func (h *Host) handleExec(req protocol.Request) {
	if !h.ready {
		h.emit(protocol.Response{
			Kind:    protocol.ResponseError,
			ID:      req.ID,
			Message: "runtime not initialized",
		})
		return
	}

	h.currentID = req.ID
	h.figures = nil
	h.openFigure = nil
	defer func() { h.currentID = "" }()

	val, err := h.vm.RunString(req.Code)

	for _, fig := range h.figures {
		h.emit(protocol.Response{Kind: protocol.ResponseFigure, ID: req.ID, Data: fig})
	}

	if err != nil {
		msg, traceback := describeError(err)
		h.emit(protocol.Response{
			Kind:      protocol.ResponseError,
			ID:        req.ID,
			Message:   msg,
			Traceback: traceback,
		})
		return
	}

	h.emit(protocol.Response{
		Kind:  protocol.ResponseResult,
		ID:    req.ID,
		Value: renderValue(val),
	})
}

// handleReset rebuilds the VM: the prelude and installed bundles are
// reapplied from cache, user bindings and open figures are gone. A fresh
// ready acknowledges completion.
func (h *Host) handleReset() {
	h.bootstrap()

	for _, name := range h.bundleOrder {
		if _, err := h.vm.RunScript(name+".js", string(h.bundles[name])); err != nil {
			// Evaluated cleanly at install time; a failure here is a bundle
			// relying on mutable state it should not have.
			h.log.Warn("bundle re-evaluation failed on reset",
				zap.String("bundle", name), zap.Error(err))
		}
	}

	h.figures = nil
	h.openFigure = nil
	h.progress("namespace reset")
	h.emit(protocol.Response{Kind: protocol.ResponseReady})
}

func (h *Host) bootstrap() {
	h.vmMu.Lock()
	h.vm = goja.New()
	h.vm.SetMaxCallStackSize(1024)
	h.vmMu.Unlock()

	h.installPrelude()
}

func (h *Host) progress(msg string) {
	h.emit(protocol.Response{Kind: protocol.ResponseProgress, Message: msg})
}

// describeError maps a goja error to a user-facing message plus traceback.
func describeError(err error) (msg, traceback string) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value().String(), exc.String()
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return "execution interrupted", ""
	}

	return err.Error(), ""
}

// renderValue formats the final expression value for display. Objects and
// arrays render as JSON, primitives as their string form, undefined/null as
// empty.
func renderValue(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return ""
	}

	switch exported := val.Export().(type) {
	case string:
		return exported
	case []interface{}, map[string]interface{}:
		out, err := sonic.Marshal(exported)
		if err != nil {
			return val.String()
		}
		return string(out)
	default:
		return val.String()
	}
}
