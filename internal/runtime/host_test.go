package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gridsim/notebook/internal/protocol"
)

type stubLoader struct {
	bundles map[string]string
	calls   int
}

func (l *stubLoader) Load(_ context.Context, name string) ([]byte, error) {
	l.calls++
	src, ok := l.bundles[name]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return []byte(src), nil
}

func startHost(t *testing.T, pkgs []Package, loader Loader) *Host {
	t.Helper()
	h := New(Config{Packages: pkgs, Loader: loader})
	h.Start()
	t.Cleanup(h.Stop)
	return h
}

// next reads responses until one of the wanted kinds arrives.
func next(t *testing.T, h *Host, kinds ...protocol.ResponseKind) protocol.Response {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case resp := <-h.Responses():
			for _, k := range kinds {
				if resp.Kind == k {
					return resp
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kinds)
		}
	}
}

func initHost(t *testing.T, h *Host) {
	t.Helper()
	h.Requests() <- protocol.Request{Kind: protocol.RequestInit}
	resp := next(t, h, protocol.ResponseReady, protocol.ResponseError)
	if resp.Kind != protocol.ResponseReady {
		t.Fatalf("init failed: %s", resp.Message)
	}
}

// exec runs code and returns the terminal response plus accumulated
// stdout/stderr/figures.
func exec(t *testing.T, h *Host, id, code string) (terminal protocol.Response, stdout, stderr string, figures []string) {
	t.Helper()
	h.Requests() <- protocol.Request{Kind: protocol.RequestExec, ID: id, Code: code}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case resp := <-h.Responses():
			switch resp.Kind {
			case protocol.ResponseStdout:
				stdout += resp.Text
			case protocol.ResponseStderr:
				stderr += resp.Text
			case protocol.ResponseFigure:
				figures = append(figures, resp.Data)
			case protocol.ResponseResult, protocol.ResponseError:
				return resp, stdout, stderr, figures
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal response")
		}
	}
}

func TestHostInitReady(t *testing.T) {
	h := startHost(t, nil, nil)
	h.Requests() <- protocol.Request{Kind: protocol.RequestInit}

	resp := next(t, h, protocol.ResponseReady, protocol.ResponseError)
	if resp.Kind != protocol.ResponseReady {
		t.Fatalf("expected ready, got %s: %s", resp.Kind, resp.Message)
	}
}

func TestHostExecution(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	tests := []struct {
		name      string
		code      string
		wantValue string
		wantErr   bool
	}{
		{"arithmetic", "1 + 1", "2", false},
		{"string result", "'hello'.toUpperCase()", "HELLO", false},
		{"undefined result", "var a = 1;", "", false},
		{"reference error", "missingVariable", "", true},
		{"num mean", "num.mean([1, 2, 3, 4])", "2.5", false},
		{"num linspace", "num.linspace(0, 1, 3)[1]", "0.5", false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terminal, _, _, _ := exec(t, h, "exec_"+tt.name+string(rune('a'+i)), tt.code)

			if tt.wantErr {
				if terminal.Kind != protocol.ResponseError {
					t.Fatalf("expected error, got %s (%q)", terminal.Kind, terminal.Value)
				}
				return
			}
			if terminal.Kind != protocol.ResponseResult {
				t.Fatalf("expected result, got %s: %s", terminal.Kind, terminal.Message)
			}
			if terminal.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", terminal.Value, tt.wantValue)
			}
		})
	}
}

func TestHostStreamsOutputWithExecutionID(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	h.Requests() <- protocol.Request{
		Kind: protocol.RequestExec,
		ID:   "exec_stream",
		Code: "console.log('one'); console.warn('two'); 'done'",
	}

	out := next(t, h, protocol.ResponseStdout)
	if out.ID != "exec_stream" || out.Text != "one\n" {
		t.Errorf("stdout = %+v", out)
	}
	errOut := next(t, h, protocol.ResponseStderr)
	if errOut.ID != "exec_stream" || errOut.Text != "two\n" {
		t.Errorf("stderr = %+v", errOut)
	}
	terminal := next(t, h, protocol.ResponseResult, protocol.ResponseError)
	if terminal.ID != "exec_stream" || terminal.Value != "done" {
		t.Errorf("terminal = %+v", terminal)
	}
}

func TestHostNamespacePersists(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	terminal, _, _, _ := exec(t, h, "exec_a", "var counter = 41;")
	if terminal.Kind != protocol.ResponseResult {
		t.Fatalf("setup failed: %+v", terminal)
	}

	terminal, _, _, _ = exec(t, h, "exec_b", "counter + 1")
	if terminal.Value != "42" {
		t.Errorf("expected persistent binding, got %q", terminal.Value)
	}
}

func TestHostUserErrorCarriesTraceback(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	terminal, _, _, _ := exec(t, h, "exec_err", "(function boom() { throw new Error('kaput'); })()")
	if terminal.Kind != protocol.ResponseError {
		t.Fatalf("expected error, got %s", terminal.Kind)
	}
	if !strings.Contains(terminal.Message, "kaput") {
		t.Errorf("message = %q", terminal.Message)
	}
	if terminal.Traceback == "" {
		t.Error("expected a formatted traceback")
	}
}

func TestHostFigureCapture(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	code := `
		plot.figure("decay");
		plot.line([0, 1, 2], [4, 2, 1]);
		plot.show();
		plot.line([0, 1], [1, 1]);
		plot.show();
		"plotted"
	`
	terminal, _, _, figures := exec(t, h, "exec_fig", code)
	if terminal.Kind != protocol.ResponseResult {
		t.Fatalf("exec failed: %s", terminal.Message)
	}
	if len(figures) != 2 {
		t.Fatalf("expected 2 figures, got %d", len(figures))
	}
	for i, fig := range figures {
		if fig == "" {
			t.Errorf("figure %d is empty", i)
		}
	}
}

func TestHostResetPreservesStandardBindings(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	if terminal, _, _, _ := exec(t, h, "exec_set", "var leaked = 7;"); terminal.Kind != protocol.ResponseResult {
		t.Fatalf("setup failed: %+v", terminal)
	}

	h.Requests() <- protocol.Request{Kind: protocol.RequestReset}
	if resp := next(t, h, protocol.ResponseReady); resp.Kind != protocol.ResponseReady {
		t.Fatal("reset did not re-emit ready")
	}

	// Standard alias survives the reset.
	terminal, _, _, _ := exec(t, h, "exec_num", "num.sum([1, 2, 3])")
	if terminal.Value != "6" {
		t.Errorf("num.sum after reset = %q", terminal.Value)
	}

	// User binding does not.
	terminal, _, _, _ = exec(t, h, "exec_leaked", "leaked")
	if terminal.Kind != protocol.ResponseError {
		t.Error("expected user binding to be undefined after reset")
	}
}

func TestHostRequiredPackageFailureIsGlobal(t *testing.T) {
	loader := &stubLoader{bundles: map[string]string{}}
	pkgs := []Package{{Name: "gridsim", ImportName: "sim", Required: true}}

	h := startHost(t, pkgs, loader)
	h.Requests() <- protocol.Request{Kind: protocol.RequestInit}

	resp := next(t, h, protocol.ResponseReady, protocol.ResponseError)
	if resp.Kind != protocol.ResponseError {
		t.Fatal("expected init to fail")
	}
	if resp.ID != "" {
		t.Error("required package failure must be a global error (no id)")
	}
}

func TestHostOptionalPackageSkipped(t *testing.T) {
	loader := &stubLoader{bundles: map[string]string{
		"gridsim": "var sim = { version: 'test' };",
	}}
	pkgs := []Package{
		{Name: "gridsim", ImportName: "sim", Required: true},
		{Name: "gridsim-extras", ImportName: "simx", Required: false},
	}

	h := startHost(t, pkgs, loader)
	initHost(t, h)

	terminal, _, _, _ := exec(t, h, "exec_sim", "sim.version")
	if terminal.Value != "test" {
		t.Errorf("required bundle not installed: %+v", terminal)
	}
}

func TestHostPackageBundleSurvivesReset(t *testing.T) {
	loader := &stubLoader{bundles: map[string]string{
		"gridsim": "var sim = { version: 'test' };",
	}}
	pkgs := []Package{{Name: "gridsim", ImportName: "sim", Required: true}}

	h := startHost(t, pkgs, loader)
	initHost(t, h)
	loads := loader.calls

	h.Requests() <- protocol.Request{Kind: protocol.RequestReset}
	next(t, h, protocol.ResponseReady)

	terminal, _, _, _ := exec(t, h, "exec_sim", "sim.version")
	if terminal.Value != "test" {
		t.Errorf("bundle lost across reset: %+v", terminal)
	}
	if loader.calls != loads {
		t.Errorf("reset must re-evaluate cached bundles, not reload: %d loads", loader.calls)
	}
}

func TestHostDropsInvalidRequests(t *testing.T) {
	h := startHost(t, nil, nil)
	initHost(t, h)

	// Malformed requests are dropped without a response and must not wedge
	// the worker loop.
	h.Requests() <- protocol.Request{Kind: protocol.RequestExec, Code: "1"}
	h.Requests() <- protocol.Request{Kind: "shutdown"}
	h.Requests() <- protocol.Request{Kind: protocol.RequestReset, ID: "exec_bogus"}

	terminal, _, _, _ := exec(t, h, "exec_after", "'still serving'")
	if terminal.Value != "still serving" {
		t.Errorf("worker stopped serving after invalid requests: %+v", terminal)
	}
}

func TestDescribeErrorFallback(t *testing.T) {
	msg, traceback := describeError(errors.New("plain failure"))
	if msg != "plain failure" || traceback != "" {
		t.Errorf("got %q / %q", msg, traceback)
	}
}
