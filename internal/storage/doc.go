// Package storage is the repository for content items and accounts.
//
// Two backends implement Repository:
//   - "sqlite": modernc SQLite file, the production store
//   - "memory": process-local maps, used by tests and dry runs
//
// Every item write is a single conditional UPDATE guarded on the item's
// (status, schedule_status) pair. A guard mismatch returns ErrConflict and
// changes nothing, which is what makes the Processing states usable as a
// claim marker.
package storage
