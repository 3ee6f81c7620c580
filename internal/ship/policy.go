package ship

import (
	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/model"
)

// FailurePolicy decides the fate of records whose delivery failed. The
// default is Drop: silently re-buffering against a persistently down
// backend would grow memory without bound, so bounded data loss is the
// default trade-off. Deployments with a different loss profile plug in
// Requeue or DeadLetter instead.
type FailurePolicy interface {
	Name() string
	OnDeliveryFailure(s *Shipper, records []model.LogRecord)
}

// Drop discards failed records.
type Drop struct{}

func (Drop) Name() string { return "drop" }

func (Drop) OnDeliveryFailure(s *Shipper, records []model.LogRecord) {
	s.log.Warn("dropping records after failed delivery", zap.Int("records", len(records)))
}

// Requeue puts failed records back into the buffer for the next flush, as
// long as the resulting buffer stays within Limit records. Anything beyond
// the limit is dropped, which keeps memory bounded during a backend outage.
type Requeue struct {
	// Limit is the maximum buffer size after requeueing. Zero means twice
	// the flush capacity.
	Limit int
}

func (Requeue) Name() string { return "requeue" }

func (p Requeue) OnDeliveryFailure(s *Shipper, records []model.LogRecord) {
	limit := p.Limit
	if limit <= 0 {
		limit = 2 * s.cfg.Capacity
	}
	kept := s.requeue(records, limit)
	if kept < len(records) {
		s.log.Warn("requeue limit reached, dropping overflow",
			zap.Int("kept", kept),
			zap.Int("dropped", len(records)-kept))
	}
}

// DeadLetter hands failed records to a sink, e.g. a local file writer.
type DeadLetter struct {
	Sink func(records []model.LogRecord)
}

func (DeadLetter) Name() string { return "dead-letter" }

func (p DeadLetter) OnDeliveryFailure(s *Shipper, records []model.LogRecord) {
	if p.Sink == nil {
		s.log.Warn("dead-letter sink not configured, dropping records",
			zap.Int("records", len(records)))
		return
	}
	p.Sink(records)
}

// requeue prepends records to the pending buffer up to limit total records.
// Returns how many were kept. No-op after Close.
func (s *Shipper) requeue(records []model.LogRecord, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	room := limit - len(s.pending)
	if room <= 0 {
		return 0
	}
	if room > len(records) {
		room = len(records)
	}
	s.pending = append(records[:room:room], s.pending...)
	return room
}
