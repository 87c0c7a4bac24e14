// Package protocol defines the message types exchanged between the
// execution bridge (controller side) and the runtime host (worker side).
//
// Lifecycle messages (init, ready, progress) carry no execution id.
// Per-execution messages always carry one; the id is the sole correlation
// key for routing streamed output and the terminal result back to the
// caller that issued the request.
package protocol
