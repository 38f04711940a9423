// Package pipelines implements the pipeline lifecycle behind the HTTP API.
//
// States:
//   - created -> validated -> executing -> succeeded | failed
//   - failed -> executing (retry); executing -> validated (caller canceled)
//
// Create builds and freezes a pipeline in one call; a rejected definition is
// never stored. Execute holds a per-pipeline lock for the whole attempt so at
// most one attempt runs at a time, persists every status change as it
// happens, and appends exactly one ledger row per finished attempt.
//
// Side effects:
//   - Audit events are written for creation and for every finished attempt.
//   - Lifecycle events, receipts and metrics are best effort; their failures
//     are logged and never change an outcome.
package pipelines
