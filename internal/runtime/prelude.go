package runtime

import (
	"sort"

	"github.com/dop251/goja"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gridsim/notebook/internal/protocol"
)

// Package describes one installable library bundle. Required bundles abort
// init when they fail to load; optional ones are logged and skipped.
type Package struct {
	Name       string // bundle name resolved by the loader
	ImportName string // global alias the bundle binds in the namespace
	Required   bool
}

// DefaultPackages is the fixed installation surface consumed at init time.
func DefaultPackages() []Package {
	return []Package{
		{Name: "gridsim", ImportName: "sim", Required: true},
		{Name: "gridsim-extras", ImportName: "simx", Required: false},
	}
}

// installPrelude binds the standard namespace entries: console/print output
// capture, the num numeric helpers, and the plot figure API. These survive
// reset; everything user-defined does not.
func (h *Host) installPrelude() {
	vm := h.vm

	// No host escape hatches inside user code.
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", h.makeWriter(protocol.ResponseStdout))
	console.Set("info", h.makeWriter(protocol.ResponseStdout))
	console.Set("warn", h.makeWriter(protocol.ResponseStderr))
	console.Set("error", h.makeWriter(protocol.ResponseStderr))
	vm.Set("console", console)
	vm.Set("print", h.makeWriter(protocol.ResponseStdout))

	h.installNum()
	h.installPlot()
}

// makeWriter builds a console function that streams its arguments as an
// output fragment tagged with the current execution id. Writes outside an
// execution (bundle top-level code) are dropped.
func (h *Host) makeWriter(kind protocol.ResponseKind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if h.currentID == "" {
			return goja.Undefined()
		}

		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		h.emit(protocol.Response{Kind: kind, ID: h.currentID, Text: msg + "\n"})
		return goja.Undefined()
	}
}

// installNum binds gonum-backed numeric helpers under the standard "num"
// alias.
func (h *Host) installNum() {
	vm := h.vm
	num := vm.NewObject()

	num.Set("sum", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(floats.Sum(h.toFloats(call.Argument(0), "num.sum")))
	})
	num.Set("mean", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(stat.Mean(h.toFloats(call.Argument(0), "num.mean"), nil))
	})
	num.Set("stddev", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(stat.StdDev(h.toFloats(call.Argument(0), "num.stddev"), nil))
	})
	num.Set("variance", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(stat.Variance(h.toFloats(call.Argument(0), "num.variance"), nil))
	})
	num.Set("median", func(call goja.FunctionCall) goja.Value {
		vals := h.toFloats(call.Argument(0), "num.median")
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		return vm.ToValue(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	})
	num.Set("dot", func(call goja.FunctionCall) goja.Value {
		xs := h.toFloats(call.Argument(0), "num.dot")
		ys := h.toFloats(call.Argument(1), "num.dot")
		if len(xs) != len(ys) {
			panic(vm.ToValue("num.dot: vectors must have equal length"))
		}
		return vm.ToValue(floats.Dot(xs, ys))
	})
	num.Set("linspace", func(call goja.FunctionCall) goja.Value {
		from := call.Argument(0).ToFloat()
		to := call.Argument(1).ToFloat()
		n := int(call.Argument(2).ToInteger())
		if n < 2 {
			panic(vm.ToValue("num.linspace: need at least 2 points"))
		}
		return vm.ToValue(floats.Span(make([]float64, n), from, to))
	})

	vm.Set("num", num)
}

// installPlot binds the figure-capture API under the standard "plot" alias.
func (h *Host) installPlot() {
	vm := h.vm
	plot := vm.NewObject()

	plot.Set("figure", func(call goja.FunctionCall) goja.Value {
		h.openFigure = &figureBuf{}
		if len(call.Arguments) > 0 {
			h.openFigure.title = call.Argument(0).String()
		}
		return goja.Undefined()
	})
	plot.Set("line", func(call goja.FunctionCall) goja.Value {
		xs := h.toFloats(call.Argument(0), "plot.line")
		ys := h.toFloats(call.Argument(1), "plot.line")
		if len(xs) != len(ys) {
			panic(vm.ToValue("plot.line: x and y must have equal length"))
		}
		if h.openFigure == nil {
			h.openFigure = &figureBuf{}
		}
		s := plotSeries{xs: xs, ys: ys}
		if len(call.Arguments) > 2 {
			s.label = call.Argument(2).String()
		}
		h.openFigure.series = append(h.openFigure.series, s)
		return goja.Undefined()
	})
	plot.Set("show", func(call goja.FunctionCall) goja.Value {
		if h.openFigure == nil || h.openFigure.empty() {
			return goja.Undefined()
		}
		h.figures = append(h.figures, h.openFigure.render())
		h.openFigure = nil
		return goja.Undefined()
	})
	plot.Set("close", func(call goja.FunctionCall) goja.Value {
		h.openFigure = nil
		return goja.Undefined()
	})

	vm.Set("plot", plot)
}

// toFloats converts a goja array argument to []float64, throwing a
// JS-visible error on shape mismatches.
func (h *Host) toFloats(val goja.Value, fn string) []float64 {
	exported := val.Export()
	switch arr := exported.(type) {
	case []float64:
		return arr
	case []interface{}:
		out := make([]float64, len(arr))
		for i, v := range arr {
			switch n := v.(type) {
			case float64:
				out[i] = n
			case int64:
				out[i] = float64(n)
			default:
				panic(h.vm.ToValue(fn + ": expected an array of numbers"))
			}
		}
		return out
	default:
		panic(h.vm.ToValue(fn + ": expected an array of numbers"))
	}
}
