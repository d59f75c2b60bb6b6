// Package ledger appends normalized events to tenant-scoped hash chains.
//
// Engine implements the optimistic append protocol: read the tip, link the
// new entry to it, insert under storage uniqueness, and on a lost race reload
// and retry with jittered backoff until MaxAttempts or Deadline runs out.
// No application mutex guards the tip; the store's UNIQUE(chain_id, seq)
// and compare-and-set on chain length are the only coordination.
//
// Recorder is the entry point for domain actions. It normalizes, appends,
// and publishes a notification to the outbox. Criticality decides what a
// failed append means for the caller:
//   - high_assurance: the error is returned and the action must fail
//   - best_effort: contention and storage faults are logged and the action
//     proceeds with a degraded receipt
package ledger
