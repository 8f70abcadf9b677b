package jobs

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"foodlog/internal/metrics"
	"foodlog/internal/services"
)

// ErrQueueFull is returned when the queue buffer is exhausted
var ErrQueueFull = errors.New("processing queue is full")

// ErrQueueStopped is returned for jobs enqueued after Stop
var ErrQueueStopped = errors.New("processing queue is stopped")

// JobHandler processes one pipeline job
type JobHandler interface {
	HandleJob(ctx context.Context, job services.Job) error
}

// ProcessingQueue runs pipeline jobs on a fixed pool of workers
type ProcessingQueue struct {
	handler JobHandler
	jobs    chan services.Job
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewProcessingQueue creates a queue with the given buffer size and worker
// count. Workers start with Start.
func NewProcessingQueue(handler JobHandler, size, workers int) *ProcessingQueue {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessingQueue{
		handler: handler,
		jobs:    make(chan services.Job, size),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue adds a job without blocking. Jobs without a run id get one.
func (q *ProcessingQueue) Enqueue(job services.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}

	select {
	case q.jobs <- job:
		metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		log.Printf("⚠️ [QUEUE] Dropping %s job for message %d: queue full", job.Kind, job.MessageID)
		return ErrQueueFull
	}
}

// Start launches the workers
func (q *ProcessingQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	log.Printf("🚀 [QUEUE] Started %d processing worker(s), buffer %d", q.workers, cap(q.jobs))
}

func (q *ProcessingQueue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			metrics.SetQueueDepth(len(q.jobs))
			q.handle(id, job)
		}
	}
}

func (q *ProcessingQueue) handle(worker int, job services.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [QUEUE] Worker %d panicked on %s job (message %d, item %d): %v",
				worker, job.Kind, job.MessageID, job.LoggedItemID, r)
		}
	}()

	if err := q.handler.HandleJob(q.ctx, job); err != nil {
		log.Printf("❌ [QUEUE] %s job failed (message %d, item %d, run %s): %v",
			job.Kind, job.MessageID, job.LoggedItemID, job.RunID, err)
	}
}

// Stop closes the queue, lets workers finish the buffered jobs and waits
// for them. Cancelling ctx abandons the remaining jobs.
func (q *ProcessingQueue) Stop(ctx context.Context) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ [QUEUE] Processing queue drained")
	case <-ctx.Done():
		q.cancel()
		<-done
		log.Printf("⚠️ [QUEUE] Processing queue stopped with %d job(s) left", len(q.jobs))
	}
	q.cancel()
}
