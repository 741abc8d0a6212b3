package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a fire-and-forget unit of work. Failures are retried with
// backoff; a job that exhausts its attempts is dropped and logged, never
// surfaced to whoever enqueued it.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type queued struct {
	job      Job
	attempts int
	notAfter time.Time
}

type Options struct {
	Workers     int
	MaxAttempts int
	Logger      *logrus.Logger
}

type Queue struct {
	jobs        chan queued
	logger      *logrus.Entry
	maxAttempts int
	wg          sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewQueue(opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	q := &Queue{
		jobs:        make(chan queued, 1024),
		logger:      logger.WithField("component", "jobs"),
		maxAttempts: maxAttempts,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue submits a job. It never blocks the caller: when the queue is
// full or stopped the job is dropped and logged.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.WithField("job", job.Name()).Warn("queue stopped, dropping job")
		return
	}
	select {
	case q.jobs <- queued{job: job}:
	default:
		q.logger.WithField("job", job.Name()).Warn("queue full, dropping job")
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for item := range q.jobs {
		q.run(item)
	}
}

func (q *Queue) run(item queued) {
	if wait := time.Until(item.notAfter); wait > 0 {
		time.Sleep(wait)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err := item.job.Run(ctx)
	cancel()
	if err == nil {
		return
	}

	item.attempts++
	log := q.logger.WithField("job", item.job.Name()).WithField("attempt", item.attempts)
	if item.attempts >= q.maxAttempts {
		log.WithError(err).Error("job failed permanently")
		return
	}
	item.notAfter = time.Now().Add(Backoff(item.attempts))
	log.WithError(err).Warn("job failed, retrying")

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- item:
	default:
		log.Error("queue full, dropping retry")
	}
}

// Stop drains the queue and waits for in-flight jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
