// Package ws streams execution to the docs frontend over WebSocket: cell
// chain runs, ad-hoc executions, namespace resets, plus pushed cell-status
// events and init progress.
package ws
