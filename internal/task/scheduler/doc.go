// Package scheduler keeps one self-re-arming refresh timer per task name.
//
// Every fire cycle re-reads the attention signal and the entry's gating
// condition, consults the shared in-flight set, runs the action at most once
// and arms the next timer with jitter. A skipped cycle is dropped, never
// queued. CancelAll is terminal.
package scheduler
