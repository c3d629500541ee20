package orchestrate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	notifyQueueDepth   = 16
	notifyQueueTimeout = 15 * time.Second
)

// notifyQueue serializes outbound notifications for one run so screenshots
// and messages arrive in order without blocking the agent loop. The queue
// is bounded; when it is full the notification is dropped and logged.
type notifyQueue struct {
	jobs   chan func(context.Context)
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newNotifyQueue(logger *zap.Logger) *notifyQueue {
	q := &notifyQueue{
		jobs:   make(chan func(context.Context), notifyQueueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.drain()
	return q
}

func (q *notifyQueue) drain() {
	defer close(q.done)
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), notifyQueueTimeout)
		job(ctx)
		cancel()
	}
}

func (q *notifyQueue) enqueue(job func(context.Context)) {
	select {
	case q.jobs <- job:
	default:
		q.logger.Warn("notification queue full, dropping notification")
	}
}

// close stops accepting jobs and waits for queued notifications to finish.
func (q *notifyQueue) close() {
	q.once.Do(func() { close(q.jobs) })
	<-q.done
}
