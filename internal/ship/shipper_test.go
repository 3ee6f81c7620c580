package ship

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coffersTech/lokiship/internal/model"
)

// fakePusher records delivered batches and reports a configurable outcome.
type fakePusher struct {
	mu      sync.Mutex
	ok      bool
	batches []*model.PushBatch
	pushed  chan *model.PushBatch
}

func newFakePusher(ok bool) *fakePusher {
	return &fakePusher{ok: ok, pushed: make(chan *model.PushBatch, 16)}
}

func (f *fakePusher) Push(_ context.Context, batch *model.PushBatch, _ time.Duration) bool {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	ok := f.ok
	f.mu.Unlock()
	select {
	case f.pushed <- batch:
	default:
	}
	return ok
}

func (f *fakePusher) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += b.EntryCount()
	}
	return n
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func waitBatch(t *testing.T, f *fakePusher) *model.PushBatch {
	t.Helper()
	select {
	case b := <-f.pushed:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a flush")
		return nil
	}
}

func assertNoBatch(t *testing.T, f *fakePusher) {
	t.Helper()
	select {
	case <-f.pushed:
		t.Fatal("unexpected flush")
	case <-time.After(100 * time.Millisecond):
	}
}

func record(msg string) model.LogRecord {
	return model.LogRecord{Time: time.Now(), Message: msg}
}

func TestShipper_BelowThresholdsNoFlush(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 10, FlushInterval: time.Hour}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	for i := 0; i < 9; i++ {
		if err := s.Enqueue(record("m")); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	if got := s.Len(); got != 9 {
		t.Errorf("expected 9 pending records, got %d", got)
	}
	assertNoBatch(t, pusher)
}

func TestShipper_CapacityTrigger(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 5, FlushInterval: time.Hour}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(record("m")); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	batch := waitBatch(t, pusher)
	if batch.EntryCount() != 5 {
		t.Errorf("expected a batch of 5, got %d", batch.EntryCount())
	}
	if got := s.Len(); got != 0 {
		t.Errorf("expected drained buffer, got %d pending", got)
	}

	// The swap resets the last-flush time, so one more record must not
	// trigger again.
	if err := s.Enqueue(record("m")); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	assertNoBatch(t, pusher)
	if pusher.count() != 1 {
		t.Errorf("expected exactly one flush, got %d", pusher.count())
	}
}

func TestShipper_IntervalTriggerFiresOnNextEnqueue(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 100, FlushInterval: 30 * time.Millisecond}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	if err := s.Enqueue(record("first")); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	// The interval elapses with the buffer partially filled. Nothing
	// flushes until the next enqueue arrives.
	time.Sleep(60 * time.Millisecond)
	if got := s.Len(); got != 1 {
		t.Fatalf("expected the partial buffer to sit unflushed, got %d pending", got)
	}

	if err := s.Enqueue(record("second")); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	batch := waitBatch(t, pusher)
	if batch.EntryCount() != 2 {
		t.Errorf("expected both records in the interval flush, got %d", batch.EntryCount())
	}
}

func TestShipper_ExplicitFlush(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 100, FlushInterval: time.Hour}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	// Empty buffer: no batch is built, no network call issued.
	s.Flush()
	assertNoBatch(t, pusher)

	if err := s.Enqueue(record("m")); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	s.Flush()
	batch := waitBatch(t, pusher)
	if batch.EntryCount() != 1 {
		t.Errorf("expected 1 entry, got %d", batch.EntryCount())
	}
}

func TestShipper_DefaultLabelsMergedPerRecord(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{
		Capacity:      2,
		FlushInterval: time.Hour,
		DefaultLabels: model.LabelSet{"service": "x", "env": "dev"},
	}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	s.Enqueue(model.LogRecord{Time: time.Now(), Message: "app"})
	s.Enqueue(model.LogRecord{
		Time:    time.Now(),
		Message: "req",
		Labels:  model.LabelSet{"log_type": "http_request", "env": "prod"},
	})

	batch := waitBatch(t, pusher)
	streams := batch.Streams()
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams for 2 label sets, got %d", len(streams))
	}
	if !streams[0].Labels.Equal(model.LabelSet{"service": "x", "env": "dev"}) {
		t.Errorf("unexpected default stream labels: %v", streams[0].Labels)
	}
	want := model.LabelSet{"service": "x", "env": "prod", "log_type": "http_request"}
	if !streams[1].Labels.Equal(want) {
		t.Errorf("caller labels must win key by key, got %v", streams[1].Labels)
	}
}

func TestShipper_DropPolicy(t *testing.T) {
	pusher := newFakePusher(false)
	s := New(Config{Capacity: 3, FlushInterval: time.Hour}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	for i := 0; i < 3; i++ {
		s.Enqueue(record("m"))
	}
	waitBatch(t, pusher)

	// Failed records are dropped, not requeued.
	time.Sleep(50 * time.Millisecond)
	if got := s.Len(); got != 0 {
		t.Errorf("drop policy must not requeue, got %d pending", got)
	}
}

func TestShipper_RequeuePolicy(t *testing.T) {
	pusher := newFakePusher(false)
	s := New(Config{
		Capacity:      3,
		FlushInterval: time.Hour,
		Policy:        Requeue{Limit: 10},
	}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	for i := 0; i < 3; i++ {
		s.Enqueue(record("m"))
	}
	waitBatch(t, pusher)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Len(); got != 3 {
		t.Errorf("expected failed records back in the buffer, got %d", got)
	}
}

func TestShipper_DeadLetterPolicy(t *testing.T) {
	pusher := newFakePusher(false)
	var mu sync.Mutex
	var dead []model.LogRecord
	s := New(Config{
		Capacity:      2,
		FlushInterval: time.Hour,
		Policy: DeadLetter{Sink: func(records []model.LogRecord) {
			mu.Lock()
			dead = append(dead, records...)
			mu.Unlock()
		}},
	}, pusher, zap.NewNop())
	defer s.Close(context.Background())

	s.Enqueue(record("a"))
	s.Enqueue(record("b"))
	waitBatch(t, pusher)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(dead)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dead) != 2 {
		t.Errorf("expected 2 dead-lettered records, got %d", len(dead))
	}
}

func TestShipper_CloseDrains(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 100, FlushInterval: time.Hour}, pusher, zap.NewNop())

	s.Enqueue(record("a"))
	s.Enqueue(record("b"))

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close error: %v", err)
	}
	batch := waitBatch(t, pusher)
	if batch.EntryCount() != 2 {
		t.Errorf("expected the final flush to carry 2 records, got %d", batch.EntryCount())
	}

	if err := s.Enqueue(record("late")); err != ErrClosed {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	// Closing twice is safe.
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestShipper_ConcurrentEnqueue(t *testing.T) {
	pusher := newFakePusher(true)
	s := New(Config{Capacity: 10, FlushInterval: time.Hour, Workers: 4, QueueSize: 64}, pusher, zap.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.Enqueue(record("m"))
			}
		}()
	}
	wg.Wait()
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close error: %v", err)
	}

	if total := pusher.entryCount(); total != 200 {
		t.Errorf("expected all 200 records delivered across flushes, got %d", total)
	}
}
