package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/entitystore/am"
	"github.com/teranos/entitystore/logger"
)

// defaultQueueSize is used when the configured async queue size is unset.
const defaultQueueSize = 16

// checkerLogger marks the lifecycle of the consistency worker:
// Starting at debug level, Closing at warn level.
type checkerLogger struct {
	*zap.SugaredLogger
}

func (l checkerLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

func (l checkerLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

type checkJob struct {
	r      Reader
	onFail func(error)
	queued time.Time
}

// Checker runs consistency checks of frozen snapshots on one background
// goroutine. Submit never blocks: checks beyond the queue size are dropped.
type Checker struct {
	jobs      chan checkJob
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	logger    checkerLogger
	mu        sync.Mutex
	running   bool

	checked atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewChecker returns a stopped checker holding up to queueSize pending
// checks.
func NewChecker(ctx context.Context, queueSize int, log *zap.SugaredLogger) *Checker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = logger.ComponentLogger("storage.consistency")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	return &Checker{
		jobs:      make(chan checkJob, queueSize),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    checkerLogger{log},
	}
}

// Start launches the worker. Starting a running checker does nothing.
func (c *Checker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	select {
	case <-c.ctx.Done():
		c.ctx, c.cancel = context.WithCancel(c.parentCtx)
		c.logger.Starting("Recreated checker context after previous shutdown")
	default:
	}
	c.running = true
	c.wg.Add(1)
	go c.worker(c.ctx)
	c.logger.Starting("Consistency checker started", "queue_size", cap(c.jobs))
}

// Stop cancels the worker and waits for it to exit. Queued checks are
// discarded.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timeout := 10 * time.Second
	select {
	case <-done:
		c.logger.Infow("Consistency checker stopped",
			"checked", c.checked.Load(),
			"failed", c.failed.Load())
	case <-time.After(timeout):
		c.logger.Closing("Consistency checker stop timed out", "timeout", timeout)
	}
	for {
		select {
		case <-c.jobs:
			c.pending.Done()
		default:
			return
		}
	}
}

// Submit queues a check of r. onFail runs on the worker goroutine when r is
// inconsistent. It reports false when the check was dropped.
func (c *Checker) Submit(r Reader, onFail func(error)) bool {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		c.dropped.Add(1)
		c.logger.Warnw("Consistency check dropped, checker is stopped")
		return false
	}
	c.pending.Add(1)
	select {
	case c.jobs <- checkJob{r: r, onFail: onFail, queued: time.Now()}:
		return true
	default:
		c.pending.Done()
		c.dropped.Add(1)
		c.logger.Warnw("Consistency check dropped, queue is full", "queue_size", cap(c.jobs))
		return false
	}
}

// Flush waits until every queued check has run or ctx is done.
func (c *Checker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of checks run, failed and dropped.
func (c *Checker) Stats() (checked, failed, dropped int64) {
	return c.checked.Load(), c.failed.Load(), c.dropped.Load()
}

func (c *Checker) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.jobs:
			c.run(ctx, job)
			c.pending.Done()
		}
	}
}

func (c *Checker) run(ctx context.Context, job checkJob) {
	start := time.Now()
	err := CheckConsistency(ctx, job.r)
	if ctx.Err() != nil {
		return
	}
	c.checked.Add(1)
	recordCheck(ModeAsync, time.Since(start), err == nil)
	c.logger.Debugw("Consistency check done",
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		"queued_ms", start.Sub(job.queued).Milliseconds(),
		"consistent", err == nil)
	if err == nil {
		return
	}
	c.failed.Add(1)
	if job.onFail != nil {
		job.onFail(err)
	}
}

var (
	shared     *Checker
	sharedOnce sync.Once
)

// sharedChecker is the process-wide worker used by builders without a
// checker of their own. Its queue size comes from storage.async.queue_size.
func sharedChecker() *Checker {
	sharedOnce.Do(func() {
		size := am.GetViper().GetInt("storage.async.queue_size")
		shared = NewChecker(context.Background(), size, nil)
		shared.Start()
	})
	return shared
}
