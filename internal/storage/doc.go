// Package storage persists watch cursors, store-backed watch targets and
// scoreboard entries.
//
// Drivers:
//   - sqlite   (default; modernc.org/sqlite, goose migrations)
//   - postgres (lib/pq, goose migrations)
//   - file     (cursor-only; JSON lines journal plus snapshot)
//   - memory   (process-local; tests and dry runs)
package storage
