// Package async is how the broker runs background work.
//
// Three primitives, smallest first:
//
//   - SafeGo runs one task on its own goroutine with a deadline and panic
//     recovery. Scheduled exports and cache warms go through it so a bad
//     task neither crashes the process nor leaks a goroutine.
//   - WorkerPool runs submitted tasks on a fixed set of workers, each task
//     under its own deadline, errors collected on a buffered channel.
//   - Batch runs a function over a slice on a temporary pool and returns
//     the errors. The import handlers use it to warm the identity cache
//     after a bulk import.
//
// All three respect context cancellation and never return a panic to the
// caller; stacks go to the process log.
package async
