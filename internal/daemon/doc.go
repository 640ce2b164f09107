// Package daemon coordinates the long-running actlog process.
//
// It wires configuration, the storage backend, the activity queue, and the
// recorder into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the local HTTP API the web application uses
// to submit activity.
//
// Keep orchestration logic here: batching and retry live in the queue
// package while the daemon focuses on startup, shutdown, and request
// handling.
package daemon
