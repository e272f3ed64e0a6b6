// Package dag schedules analysis jobs as a deterministic dependency graph.
//
// It is split into:
//   - Immutable graph definition (TaskGraph): jobs + dependency structure + stable GraphHash
//   - Mutable execution state (ExecutionState): runtime statuses and results
//
// The graph identity (GraphHash) is computed from job definitions and
// canonicalized edge structure, making it invariant to insertion order.
// The validate job is the single root of a findoutlie graph: when it fails,
// every detect job is SKIPPED.
package dag
