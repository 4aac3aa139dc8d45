// Package engine provides the job orchestration core. It accepts submissions,
// creates the job record and log artifact before returning, and dispatches
// execution onto a bounded worker pool. Workers drive the lifecycle
// (accepted→running→completed/failed/cancelled) through the store, enforce
// timeouts via context deadlines, and resolve every dispatched job to a
// terminal state even when the worker body faults.
package engine
