// Package storage persists per-source cursors and the run history.
//
// Drivers:
//   - "file": JSON map source_id -> RFC 3339 timestamp, rewritten atomically
//     (tmp + fsync + rename), plus a <prefix>.runs.jsonl run log
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": lib/pq connection string
//   - "memory": process-local, for tests and dry runs
package storage
