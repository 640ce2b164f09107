package queue

import "time"

// Observer receives queue events, typically to update metrics.
type Observer interface {
	Enqueued()
	Flushed(count int, inserted int64, elapsed time.Duration)
	FlushFailed(count int, kind string, elapsed time.Duration)
	Requeued(count int)
	Dropped(count int)
}

type nopObserver struct{}

func (nopObserver) Enqueued() {}
func (nopObserver) Flushed(int, int64, time.Duration) {}
func (nopObserver) FlushFailed(int, string, time.Duration) {}
func (nopObserver) Requeued(int) {}
func (nopObserver) Dropped(int) {}
