package index

import (
	"context"
	"sync"
	"time"

	"github.com/memsearch/mem-search/internal/config"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

// FlushFunc receives a drained batch. Errors are logged by the queue
// and the batch is not retried.
type FlushFunc func(ctx context.Context, batch []Document) error

// Queue buffers documents and flushes them in batches, either when the
// buffer reaches the batch size or when the flush interval elapses.
// Add applies backpressure with a QUEUE_FULL error once the buffer
// holds max queue size documents.
type Queue struct {
	flush FlushFunc
	log   *logger.Logger

	batchSize     int
	maxQueueSize  int
	flushInterval time.Duration

	mu      sync.Mutex
	buf     []Document
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewQueue creates a stopped queue. Call Start to begin interval
// flushing; Add and Flush work either way.
func NewQueue(cfg config.IndexConfig, flush FlushFunc, log *logger.Logger) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxQueueSize < cfg.BatchSize {
		cfg.MaxQueueSize = cfg.BatchSize * 10
	}
	if cfg.FlushIntervalMs <= 0 {
		cfg.FlushIntervalMs = 5000
	}

	return &Queue{
		flush:         flush,
		log:           log.WithComponent("index-queue"),
		batchSize:     cfg.BatchSize,
		maxQueueSize:  cfg.MaxQueueSize,
		flushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		buf:           make([]Document, 0, cfg.BatchSize),
	}
}

// Start launches the interval flush loop. Calling Start on a running
// queue is a logged no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		q.log.Warn("queue already started")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true

	go q.run(ctx)
	q.log.Info("queue started",
		"batch_size", q.batchSize,
		"flush_interval", q.flushInterval.String(),
		"max_queue_size", q.maxQueueSize)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Flush(context.Background())
		}
	}
}

// Add enqueues one document. If the buffer reaches the batch size the
// same call drains it and invokes the flush callback before returning,
// so a full batch never waits for the timer.
func (q *Queue) Add(ctx context.Context, doc Document) error {
	q.mu.Lock()
	if len(q.buf) >= q.maxQueueSize {
		q.mu.Unlock()
		return apperrors.QueueFullError(q.maxQueueSize)
	}

	q.buf = append(q.buf, doc)

	var batch []Document
	if len(q.buf) >= q.batchSize {
		batch = q.buf
		q.buf = make([]Document, 0, q.batchSize)
	}
	q.mu.Unlock()

	if batch != nil {
		q.flushBatch(ctx, batch)
	}
	return nil
}

// Flush drains whatever is buffered, regardless of size.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.buf
	q.buf = make([]Document, 0, q.batchSize)
	q.mu.Unlock()

	q.flushBatch(ctx, batch)
}

// flushBatch runs the callback outside the queue lock. A failed flush
// loses the batch; the consumer's ack discipline bounds the loss.
func (q *Queue) flushBatch(ctx context.Context, batch []Document) {
	if err := q.flush(ctx, batch); err != nil {
		q.log.WithError(err).Error("batch flush failed", "batch_size", len(batch))
		return
	}
	q.log.Debug("batch flushed", "batch_size", len(batch))
}

// Stop cancels the interval loop and drains the remaining buffer.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done

	q.Flush(ctx)
	q.log.Info("queue stopped")
}

// Len reports the current buffer length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
