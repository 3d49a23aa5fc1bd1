// Package storage persists the last good body of every feed and a journal of
// task runs, so a restart can serve stale data before the first refresh.
//
// Drivers:
//   - "file": per-feed snapshot JSON written with an atomic rename, plus
//     append-only runs.jsonl
//   - "sqlite": a single SQLite database (modernc.org/sqlite, WAL)
package storage
