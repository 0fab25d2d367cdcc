package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	fail bool

	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, evt domain.Event) error {
	if r.fail {
		return errors.New("send failed")
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitForCount(t *testing.T, s *recordingSender, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sender received %d events, want %d", s.count(), want)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	// No consumer running: the queue fills and overflow is dropped, but
	// every Enqueue call must return promptly.
	n := NewNotifier([]Sender{&recordingSender{name: "t"}}, "", testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+50; i++ {
			n.Enqueue(domain.Event{Kind: "test", Severity: domain.SeverityInfo})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestMinLevelFilter(t *testing.T) {
	sender := &recordingSender{name: "t"}
	n := NewNotifier([]Sender{sender}, domain.SeverityWarning, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(domain.Event{Kind: "chatter", Severity: domain.SeverityInfo})
	n.Enqueue(domain.Event{Kind: "trouble", Severity: domain.SeverityWarning})
	n.Enqueue(domain.Event{Kind: "fire", Severity: domain.SeverityCritical})

	waitForCount(t, sender, 2)
	time.Sleep(20 * time.Millisecond)
	if got := sender.count(); got != 2 {
		t.Errorf("delivered %d events, want 2 (info filtered)", got)
	}
}

func TestSenderFailureDoesNotStopDelivery(t *testing.T) {
	broken := &recordingSender{name: "broken", fail: true}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, "", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Enqueue(domain.Event{Kind: "test", Severity: domain.SeverityCritical})

	waitForCount(t, healthy, 1)
}

func TestEnqueueWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, "", testLogger())
	// Must not panic or queue anything.
	n.Enqueue(domain.Event{Kind: "test", Severity: domain.SeverityInfo})
	if len(n.queue) != 0 {
		t.Errorf("queue length = %d, want 0 with no senders", len(n.queue))
	}
}

func TestEnqueueStampsTime(t *testing.T) {
	n := NewNotifier([]Sender{&recordingSender{name: "t"}}, "", testLogger())
	n.Enqueue(domain.Event{Kind: "test", Severity: domain.SeverityInfo})
	evt := <-n.queue
	if evt.At.IsZero() {
		t.Error("event timestamp not stamped at enqueue")
	}
}
