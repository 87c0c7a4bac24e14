// Package runtime implements the worker side of the execution bridge: a
// host goroutine that owns one goja VM and its persistent namespace,
// installs library bundles once at init, executes code serially, and
// streams tagged stdout/stderr/figure messages back over a channel.
//
// The host processes one exec request at a time, so a single "current
// execution id" slot is sufficient to attribute every console write to the
// right execution. The slot is set on entry and cleared on exit via defer,
// so it is never left stale when user code panics the VM.
package runtime
