// Package store persists activity records. It defines the Backend contract the
// queue flushes into and provides SQLite and Pebble implementations. Both
// backends key rows by the activity ID so repeated inserts of the same record
// can be skipped silently.
package store
