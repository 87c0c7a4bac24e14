// Package bridge implements the controller side of the execution protocol:
// request/response correlation by execution id, accumulation of streamed
// output, timeouts, and the init/execute/reset/terminate lifecycle.
//
// User-code failures and execution timeouts come back as a populated
// ExecutionResult, never as a Go error; errors are reserved for transport
// and lifecycle failures. This keeps a single failing cell from corrupting
// bridge state.
package bridge
