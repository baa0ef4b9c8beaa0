package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/nextgen-voice/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the queue is at capacity
	ErrQueueFull = errors.New("transcription queue full")

	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("transcription pool stopped")
)

// JobResult is the outcome of one engine run
type JobResult struct {
	JobID    string
	Result   *EngineResult
	Err      error
	Waited   time.Duration
	Duration time.Duration
}

// job represents a queued engine run with metadata
type job struct {
	id        string
	ctx       context.Context
	audioPath string
	enqueued  time.Time
	done      chan JobResult
}

// Pool runs engine subprocesses on a fixed set of workers fed by a bounded queue
type Pool struct {
	engine  Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	workers int

	jobs      chan *job
	slots     chan struct{} // one per running or queued job
	queueSize int
	wg        sync.WaitGroup

	stopped bool

	// Statistics
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
	busy      int
	mu        sync.RWMutex
}

// PoolStats represents pool counters
type PoolStats struct {
	Workers       int    `json:"workers"`
	BusyWorkers   int    `json:"busy_workers"`
	QueueSize     int    `json:"queue_size"`
	QueueCapacity int    `json:"queue_capacity"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Rejected      uint64 `json:"rejected"`
}

// NewPool creates the pool and starts its workers
func NewPool(engine Engine, workers, queueSize int, logger *slog.Logger, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		engine:  engine,
		logger:  logger,
		metrics: m,
		workers:   workers,
		jobs:      make(chan *job, workers+queueSize),
		slots:     make(chan struct{}, workers+queueSize),
		queueSize: queueSize,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("Transcription pool started",
		slog.Int("workers", workers),
		slog.Int("queue_size", queueSize),
	)

	return p
}

// Submit queues a job without blocking. The returned channel receives exactly one result.
// ctx bounds the job: a job whose context ends while queued is skipped, and a running
// engine is interrupted.
func (p *Pool) Submit(ctx context.Context, audioPath string) (<-chan JobResult, error) {
	j := &job{
		id:        uuid.NewString(),
		ctx:       ctx,
		audioPath: audioPath,
		enqueued:  time.Now(),
		done:      make(chan JobResult, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	select {
	case p.slots <- struct{}{}:
		p.jobs <- j
		p.submitted++
		p.metrics.RecordJobQueued()
		p.metrics.SetQueueDepth(len(p.jobs))
	default:
		p.rejected++
		p.metrics.RecordJobRejected()
		p.logger.Warn("Transcription queue full, rejecting job",
			slog.String("audio_path", audioPath),
			slog.Int("workers", p.workers),
			slog.Int("queue_capacity", p.queueSize),
		)
		return nil, ErrQueueFull
	}

	return j.done, nil
}

// Transcribe submits a job and waits for its result or for ctx to end
func (p *Pool) Transcribe(ctx context.Context, audioPath string) (*EngineResult, error) {
	done, err := p.Submit(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		return res.Result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// worker consumes jobs until the queue is closed
func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Transcription worker started", slog.Int("worker_id", workerID))

	for j := range p.jobs {
		p.metrics.SetQueueDepth(len(p.jobs))
		p.runJob(j, workerID)
	}

	p.logger.Debug("Transcription worker stopped", slog.Int("worker_id", workerID))
}

// runJob runs a single engine invocation and delivers its result.
// The job's slot is freed before delivery so the caller can resubmit at once.
func (p *Pool) runJob(j *job, workerID int) {
	waited := time.Since(j.enqueued)

	if err := j.ctx.Err(); err != nil {
		p.logger.Debug("Skipping abandoned job",
			slog.String("job_id", j.id),
			slog.Int("worker_id", workerID),
		)
		<-p.slots
		j.done <- JobResult{JobID: j.id, Err: err, Waited: waited}
		return
	}

	p.setBusy(true)
	start := time.Now()
	result, err := p.engine.Transcribe(j.ctx, j.audioPath)
	elapsed := time.Since(start)
	p.setBusy(false)

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()
	p.metrics.RecordJobFinished(err == nil, elapsed.Seconds())

	if err != nil {
		p.logger.Error("Transcription job failed",
			slog.String("job_id", j.id),
			slog.Int("worker_id", workerID),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		p.logger.Info("Transcription job completed",
			slog.String("job_id", j.id),
			slog.Int("worker_id", workerID),
			slog.Duration("waited", waited),
			slog.Duration("elapsed", elapsed),
			slog.Int("segments", len(result.Segments)),
		)
	}

	<-p.slots
	j.done <- JobResult{JobID: j.id, Result: result, Err: err, Waited: waited, Duration: elapsed}
}

func (p *Pool) setBusy(busy bool) {
	p.mu.Lock()
	if busy {
		p.busy++
	} else {
		p.busy--
	}
	p.mu.Unlock()
	p.metrics.WorkerBusy(busy)
}

// Stop rejects new jobs, lets queued jobs finish and waits for the workers
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()

	stats := p.GetStats()
	p.logger.Info("Transcription pool stopped",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("rejected", stats.Rejected),
	)
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Workers:       p.workers,
		BusyWorkers:   p.busy,
		QueueSize:     len(p.jobs),
		QueueCapacity: p.queueSize,
		Submitted:     p.submitted,
		Completed:     p.completed,
		Failed:        p.failed,
		Rejected:      p.rejected,
	}
}
