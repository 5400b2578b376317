// Package tasks runs promotions in the background. A Pool accepts requests,
// hands back a task id immediately and executes them on a fixed number of
// workers fed by a bounded queue. Results land in a Registry that callers
// poll by id.
//
// Promotions are detached from the submitting context: abandoning the
// caller does not stop a run. Concurrent runs for the same promotion branch
// share a single execution.
package tasks
