package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

// webhookPayload is the JSON body of one alert. Text duplicates the alert
// in a single line so that Slack-style incoming hooks render it as is.
type webhookPayload struct {
	Source     string     `json:"source"`
	Instrument string     `json:"instrument,omitempty"`
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Text       string     `json:"text"`
	TS         time.Time  `json:"ts"`
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookInstrument tags every payload with the traded instrument.
func WithWebhookInstrument(instrument string) WebhookOption {
	return func(w *WebhookNotifier) { w.instrument = instrument }
}

// WithWebhookRetry sets the delivery attempts and the first retry delay.
func WithWebhookRetry(attempts int, min time.Duration) WebhookOption {
	return func(w *WebhookNotifier) {
		w.attempts = attempts
		w.retry.Min = min
	}
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint. Transport errors
// and 5xx responses are retried; 4xx responses are not.
type WebhookNotifier struct {
	url        string
	instrument string
	attempts   int
	retry      backoff.Backoff
	client     *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string, logger *slog.Logger, opts ...WebhookOption) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebhookNotifier{
		url:      url,
		attempts: 3,
		retry:    backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2},
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		logger:   logger.With("component", "webhook"),
	}
	for _, o := range opts {
		o(w)
	}
	if w.attempts < 1 {
		w.attempts = 1
	}
	return w
}

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("webhook: permanent failure")

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("[%s] %s: %s", alert.Level, alert.Title, alert.Message)
	if w.instrument != "" {
		text = fmt.Sprintf("[%s] %s %s: %s", alert.Level, w.instrument, alert.Title, alert.Message)
	}
	body, err := json.Marshal(webhookPayload{
		Source:     "algotrade",
		Instrument: w.instrument,
		Level:      alert.Level,
		Title:      alert.Title,
		Message:    alert.Message,
		Text:       text,
		TS:         w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	b := w.retry
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, body)
		if err == nil {
			w.logger.Debug("sent alert", "title", alert.Title, "attempt", attempt)
			return nil
		}
		if errors.Is(err, errPermanent) || attempt >= w.attempts {
			return err
		}
		d := b.Duration()
		w.logger.Warn("alert delivery failed, retrying", "title", alert.Title, "attempt", attempt, "retry_in", d.String(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
}
