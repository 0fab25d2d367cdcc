// Package notify delivers engine events to operators. Producers enqueue
// typed events onto a bounded queue and a single consumer goroutine delivers
// them to all registered senders, so a slow or failing channel can never
// block a lifecycle operation.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers one event.
	Send(ctx context.Context, evt domain.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// defaultQueueSize bounds the outbound event queue. Events beyond it are
// dropped, never queued behind a stalled sender.
const defaultQueueSize = 256

// Notifier is the outbound event queue. Enqueue never blocks; Run consumes
// the queue and fans each event out to every sender.
type Notifier struct {
	senders  []Sender
	minLevel domain.Severity
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Events
// below minLevel are filtered out at enqueue time; an empty minLevel admits
// everything.
func NewNotifier(senders []Sender, minLevel domain.Severity, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:  senders,
		minLevel: minLevel,
		queue:    make(chan domain.Event, defaultQueueSize),
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// severityRank orders severities for the minimum-level filter.
func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityWarning:
		return 1
	case domain.SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Enqueue adds an event to the outbound queue. It never blocks: when the
// queue is full the event is dropped and the drop is logged.
func (n *Notifier) Enqueue(evt domain.Event) {
	if len(n.senders) == 0 {
		return
	}
	if n.minLevel != "" && severityRank(evt.Severity) < severityRank(n.minLevel) {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case n.queue <- evt:
	default:
		n.logger.Warn("notification queue full, dropping event",
			slog.String("kind", evt.Kind),
			slog.String("severity", string(evt.Severity)),
		)
	}
}

// Run consumes the queue until ctx is cancelled, delivering each event to
// all senders. Sender failures are logged and swallowed.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", slog.Int("senders", len(n.senders)))
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier stopped")
			return ctx.Err()
		case evt := <-n.queue:
			n.deliver(ctx, evt)
		}
	}
}

// deliver sends one event to every sender. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) deliver(ctx context.Context, evt domain.Event) {
	for _, s := range n.senders {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.Send(sendCtx, evt)
		cancel()
		if err != nil {
			n.logger.Warn("sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", evt.Kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification delivered",
			slog.String("sender", s.Name()),
			slog.String("kind", evt.Kind),
		)
	}
}
