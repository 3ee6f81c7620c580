// Package ship implements the buffered, asynchronous shipping pipeline: an
// in-process buffer of log records, the triggers that decide when to flush,
// and a bounded pool of flush workers that deliver batches without ever
// blocking the producer.
package ship

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/codec"
	"github.com/coffersTech/lokiship/internal/model"
)

// ErrClosed is returned by Enqueue after Close has been called. It marks a
// lifecycle contract violation at the call site, not a runtime condition to
// handle dynamically.
var ErrClosed = errors.New("ship: shipper is closed")

// Pusher delivers one batch within the given timeout and reports success.
// *loki.Client satisfies it.
type Pusher interface {
	Push(ctx context.Context, batch *model.PushBatch, timeout time.Duration) bool
}

// Config holds the shipping pipeline settings.
type Config struct {
	// Capacity is the pending-record count that triggers a flush.
	Capacity int
	// FlushInterval triggers a flush when this much time has passed since
	// the last one. Checked opportunistically on enqueue only: a partially
	// filled buffer that stops receiving records sits until the next
	// enqueue or Close. That latency trade-off is deliberate; there is no
	// background ticker.
	FlushInterval time.Duration
	// Workers bounds the number of concurrent in-flight flushes.
	Workers int
	// QueueSize bounds pending batches waiting for a worker. A full queue
	// routes the batch straight to the failure policy.
	QueueSize int
	// PushTimeout is passed to the Pusher per flush. Zero lets the Pusher
	// apply its own background default.
	PushTimeout time.Duration
	// DefaultLabels are merged into every batch; per-record labels win
	// key by key.
	DefaultLabels model.LabelSet
	// Policy decides what happens to records whose delivery failed.
	// Defaults to Drop.
	Policy FailurePolicy
}

const (
	DefaultCapacity      = 50
	DefaultFlushInterval = 5 * time.Second
	DefaultWorkers       = 2
	DefaultQueueSize     = 8
)

func (c *Config) withDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Policy == nil {
		c.Policy = Drop{}
	}
}

// Shipper owns the single buffer state: the pending record list, the
// last-flush timestamp and the trigger thresholds. Enqueue and the trigger
// check run synchronously on the caller and are O(1); only the swap of the
// pending list is mutually exclusive with concurrent enqueues. Network I/O
// happens on the worker pool, never under the lock.
type Shipper struct {
	cfg    Config
	pusher Pusher
	log    *zap.Logger

	mu        sync.Mutex
	pending   []model.LogRecord
	lastFlush time.Time
	closed    bool

	jobs chan []model.LogRecord
	wg   sync.WaitGroup
}

// New builds a Shipper and starts its flush workers.
func New(cfg Config, pusher Pusher, log *zap.Logger) *Shipper {
	cfg.withDefaults()
	s := &Shipper{
		cfg:       cfg,
		pusher:    pusher,
		log:       log,
		pending:   make([]model.LogRecord, 0, cfg.Capacity),
		lastFlush: time.Now(),
		jobs:      make(chan []model.LogRecord, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue appends one record and checks the flush triggers. It never blocks
// past the buffer swap and never performs network I/O.
func (s *Shipper) Enqueue(rec model.LogRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = append(s.pending, rec)

	var overflow []model.LogRecord
	if len(s.pending) >= s.cfg.Capacity || time.Since(s.lastFlush) >= s.cfg.FlushInterval {
		overflow = s.drainLocked()
	}
	s.mu.Unlock()

	if overflow != nil {
		s.overflowed(overflow)
	}
	return nil
}

// Flush forces a flush regardless of thresholds. With an empty buffer it is
// a no-op: no batch is built and no network call is issued.
func (s *Shipper) Flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	overflow := s.drainLocked()
	s.mu.Unlock()

	if overflow != nil {
		s.overflowed(overflow)
	}
}

// Len returns the pending record count.
func (s *Shipper) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drains the pipeline: it flushes whatever is buffered, stops
// accepting records, and waits for in-flight flushes until ctx expires.
func (s *Shipper) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.lastFlush = time.Now()
	drained := s.pending
	s.pending = nil
	s.mu.Unlock()

	// No concurrent senders remain once closed is set, so a blocking send
	// and the close below are safe outside the lock.
	if len(drained) > 0 {
		select {
		case s.jobs <- drained:
		case <-ctx.Done():
			s.cfg.Policy.OnDeliveryFailure(s, drained)
		}
	}
	close(s.jobs)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainLocked exchanges the pending list for an empty one, stamps the swap
// as the new last-flush time and hands the drained records to a worker.
// Caller holds s.mu; the send stays under the lock so it cannot race Close
// closing the jobs channel. When every worker is busy and the queue is full
// the records are returned for the failure policy instead.
func (s *Shipper) drainLocked() []model.LogRecord {
	s.lastFlush = time.Now()
	if len(s.pending) == 0 {
		return nil
	}
	drained := s.pending
	s.pending = make([]model.LogRecord, 0, s.cfg.Capacity)
	select {
	case s.jobs <- drained:
		return nil
	default:
		return drained
	}
}

// overflowed runs the failure policy for records that found no free worker.
// It must be called without the shipper lock held: Requeue takes the lock.
func (s *Shipper) overflowed(records []model.LogRecord) {
	s.log.Warn("flush queue saturated", zap.Int("records", len(records)))
	s.cfg.Policy.OnDeliveryFailure(s, records)
}

func (s *Shipper) worker() {
	defer s.wg.Done()
	for records := range s.jobs {
		batch := s.buildBatch(records)
		if !s.pusher.Push(context.Background(), batch, s.cfg.PushTimeout) {
			s.log.Debug("flush delivery failed",
				zap.Int("records", len(records)),
				zap.String("policy", s.cfg.Policy.Name()))
			s.cfg.Policy.OnDeliveryFailure(s, records)
		}
	}
}

// buildBatch converts drained records into one push batch, grouping entries
// by their merged label set. The timestamp fallback for records without a
// time is sampled here, at encode time.
func (s *Shipper) buildBatch(records []model.LogRecord) *model.PushBatch {
	now := time.Now()
	batch := &model.PushBatch{}
	for _, rec := range records {
		labels := s.cfg.DefaultLabels.Merge(rec.Labels)
		batch.Add(labels, model.Entry{
			Timestamp: codec.TimestampNanos(rec.Time, now),
			Line:      rec.Message,
		})
	}
	return batch
}
