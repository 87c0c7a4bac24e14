// Package server wires the execution backend together: config, logging,
// metrics, the bridge/scheduler/runner trio, and the HTTP + WebSocket
// surfaces the docs frontend talks to.
package server
