package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"algotrade/internal/indicator"
	"algotrade/internal/model"
	"algotrade/internal/strategy"
)

// sink is the write path of a Writer.
type sink interface {
	write(ctx context.Context, kind Kind, data string) error
}

// pendingWrite is a write held back while the circuit is open.
type pendingWrite struct {
	kind Kind
	data string
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, writes are buffered locally and flushed
// when the circuit closes again.
type BufferedWriter struct {
	sink   sink
	closer func() error
	cb     *CircuitBreaker
	ctx    context.Context
	logger *slog.Logger

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
// ctx bounds the background flushes.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w, w.Close, cb, maxBufferSize, w.logger)
}

func newBufferedWriter(ctx context.Context, s sink, closer func() error, cb *CircuitBreaker, maxBufferSize int, logger *slog.Logger) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	bw := &BufferedWriter{
		sink:   s,
		closer: closer,
		cb:     cb,
		ctx:    ctx,
		logger: logger,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// put writes through the circuit breaker. A write that cannot go out now is
// buffered; only genuine write failures are returned.
func (bw *BufferedWriter) put(ctx context.Context, kind Kind, data string) error {
	err := bw.cb.Execute(func() error {
		return bw.sink.write(ctx, kind, data)
	})
	if err == nil {
		return nil
	}
	bw.bufferWrite(kind, data)
	if errors.Is(err, ErrCircuitOpen) {
		return nil // buffered, not lost
	}
	return err
}

// Run writes candles until ctx is cancelled or candleCh is closed.
func (bw *BufferedWriter) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if err := bw.put(ctx, KindCandle, string(c.JSON())); err != nil {
				bw.logger.Warn("candle write failed", "candle", c.Key(), "error", err)
			}
		}
	}
}

// PublishSnapshot writes the latest indicator snapshot.
func (bw *BufferedWriter) PublishSnapshot(ctx context.Context, s *indicator.Snapshot) error {
	return bw.put(ctx, KindSnapshot, string(s.JSON()))
}

// PublishSignal writes a signal.
func (bw *BufferedWriter) PublishSignal(ctx context.Context, sig strategy.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return bw.put(ctx, KindSignal, string(data))
}

// PublishTrade appends a closed trade.
func (bw *BufferedWriter) PublishTrade(ctx context.Context, t model.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return bw.put(ctx, KindTrade, string(data))
}

func (bw *BufferedWriter) bufferWrite(kind Kind, data string) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{kind: kind, data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes in order. Writes that fail again are
// put back at the front of the buffer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		if err := bw.sink.write(bw.ctx, pw.kind, pw.data); err != nil {
			bw.logger.Warn("flush interrupted", "remaining", len(toFlush)-i, "error", err)
			bw.mu.Lock()
			bw.buffer = append(append([]pendingWrite(nil), toFlush[i:]...), bw.buffer...)
			bw.mu.Unlock()
			break
		}
		flushed++
	}

	bw.logger.Info("flushed buffered writes", "count", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close closes the underlying writer.
func (bw *BufferedWriter) Close() error {
	if bw.closer == nil {
		return nil
	}
	return bw.closer()
}
