// Package logs reads the daemon's JSON log file.
//
// Tail and Follow back `actlog logs`. Dropped scans the file for
// activity_dropped events and recovers the record payloads so they can be
// replayed with `actlog log --json`.
package logs
