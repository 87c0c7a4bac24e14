// Package scheduler tracks executable notebook cells and runs them in
// dependency order: resolving the transitive prerequisite chain per
// invocation, detecting cycles before anything runs, skipping cells that
// already succeeded, and halting the chain on the first failure.
//
// Resolution happens per run rather than against a precomputed global
// order, so the scheduler stays correct as cells register and unregister
// while documentation sections mount lazily.
package scheduler
