// Package notification delivers trading alerts (fatal feed errors, risk
// rejections, closed trades) to external channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, alert.Title, "message", alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async queues alerts and delivers them from Run so that senders never block
// on network I/O. Alerts are dropped when the queue is full.
type Async struct {
	next    Notifier
	queue   chan Alert
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewAsync wraps next with a queue of size buf.
func NewAsync(next Notifier, buf int, logger *slog.Logger) *Async {
	if buf <= 0 {
		buf = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, queue: make(chan Alert, buf), logger: logger.With("component", "notify")}
}

// Send enqueues alert without blocking.
func (a *Async) Send(_ context.Context, alert Alert) error {
	select {
	case a.queue <- alert:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of alerts discarded because the queue was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run delivers queued alerts until ctx is cancelled, then drains what is left.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case alert := <-a.queue:
					a.deliver(context.WithoutCancel(ctx), alert)
				default:
					return
				}
			}
		case alert := <-a.queue:
			a.deliver(ctx, alert)
		}
	}
}

func (a *Async) deliver(ctx context.Context, alert Alert) {
	if err := a.next.Send(ctx, alert); err != nil {
		a.logger.Warn("alert delivery failed", "title", alert.Title, "error", err)
	}
}
