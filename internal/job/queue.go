package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/types"
)

// JobExecutor runs one job to completion
type JobExecutor interface {
	Run(ctx context.Context, jobID string) (*models.ImportJob, error)
}

// QueuedJobLister finds jobs left queued by a previous process
type QueuedJobLister interface {
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.ImportJob, error)
}

const (
	defaultQueueWorkers = 2
	maxReloadedJobs     = 1000
)

// ImportQueue runs import jobs in FIFO order on a bounded worker pool
type ImportQueue struct {
	mu sync.Mutex

	pending  []string
	queued   map[string]bool
	running  map[string]context.CancelFunc
	executor JobExecutor
	lister   QueuedJobLister

	workerSem    chan struct{}
	wakeCh       chan struct{}
	stopCh       chan struct{}
	pollInterval time.Duration
	started      bool
	stopped      bool
	wg           sync.WaitGroup
}

// NewImportQueue creates a queue. lister may be nil when nothing needs reloading.
func NewImportQueue(executor JobExecutor, lister QueuedJobLister, workers int) *ImportQueue {
	if workers <= 0 {
		workers = defaultQueueWorkers
	}

	return &ImportQueue{
		queued:       make(map[string]bool),
		running:      make(map[string]context.CancelFunc),
		executor:     executor,
		lister:       lister,
		workerSem:    make(chan struct{}, workers),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		pollInterval: time.Second,
	}
}

// Start reloads queued jobs and begins dispatching
func (q *ImportQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue already started")
	}
	q.started = true
	q.mu.Unlock()

	if err := q.loadQueuedJobs(ctx); err != nil {
		return fmt.Errorf("failed to load queued jobs: %w", err)
	}

	go q.processJobs(ctx)
	return nil
}

// Stop stops dispatching, cancels running jobs and waits for them to finalize
func (q *ImportQueue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue already stopped")
	}
	q.stopped = true
	close(q.stopCh)
	for _, cancel := range q.running {
		cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Submit appends a job to the queue
func (q *ImportQueue) Submit(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return fmt.Errorf("queue stopped")
	}
	if q.queued[jobID] || q.running[jobID] != nil {
		return nil
	}
	q.pending = append(q.pending, jobID)
	q.queued[jobID] = true
	q.wake()
	return nil
}

// Remove drops a job that has not been dispatched yet
func (q *ImportQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.queued[jobID] {
		return false
	}
	delete(q.queued, jobID)
	for i, id := range q.pending {
		if id == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return true
}

// wake nudges the dispatcher. Caller holds q.mu.
func (q *ImportQueue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// processJobs is the main dispatch loop
func (q *ImportQueue) processJobs(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
		case <-q.wakeCh:
		}
		for q.dispatchNext(ctx) {
		}
	}
}

// dispatchNext starts the oldest pending job if a worker is free
func (q *ImportQueue) dispatchNext(ctx context.Context) bool {
	select {
	case q.workerSem <- struct{}{}:
	default:
		return false
	}

	q.mu.Lock()
	if q.stopped || len(q.pending) == 0 {
		q.mu.Unlock()
		<-q.workerSem
		return false
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, jobID)

	jobCtx, cancel := context.WithCancel(ctx)
	q.running[jobID] = cancel
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			delete(q.running, jobID)
			q.mu.Unlock()
			cancel()
			<-q.workerSem
			q.wg.Done()

			q.mu.Lock()
			q.wake()
			q.mu.Unlock()
		}()

		log := logging.FromContext(ctx).WithField(logging.FieldJobID, jobID)
		if _, err := q.executor.Run(jobCtx, jobID); err != nil {
			log.WithError(err).Warn("Import job ended with error")
		}
	}()
	return true
}

// loadQueuedJobs re-queues jobs a previous process accepted but never ran
func (q *ImportQueue) loadQueuedJobs(ctx context.Context) error {
	if q.lister == nil {
		return nil
	}
	jobs, err := q.lister.ListByStatus(ctx, types.JobStatusQueued, maxReloadedJobs)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if q.queued[job.ID] {
			continue
		}
		q.pending = append(q.pending, job.ID)
		q.queued[job.ID] = true
	}
	if len(jobs) > 0 {
		q.wake()
	}

	logging.FromContext(ctx).WithField("count", len(jobs)).Info("Loaded queued import jobs")
	return nil
}

// Len returns the number of jobs waiting for a worker
func (q *ImportQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ActiveJobs returns the number of running jobs
func (q *ImportQueue) ActiveJobs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}
