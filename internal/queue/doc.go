// Package queue buffers activity records in memory and persists them in
// batches.
//
// Enqueue appends to a FIFO buffer and never waits on storage. A flush takes
// up to MaxBatchSize entries from the head and hands them to the Sink in one
// InsertBatch call with skip-duplicates enabled, so replaying an entry after a
// partially applied write does not create a second row. Failed entries are
// requeued at the tail with an incremented retry count until the count
// reaches MaxRetries, at which point they are dropped and logged with their
// full payload.
//
// At most one flush runs at a time. Flushes are triggered when the buffer
// reaches MaxBatchSize, by the periodic timer registered with Start, by
// explicit Flush calls, and by the bounded drain in Shutdown.
package queue
