package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tuya-lights/internal/domain"
)

const (
	DefaultDebounce     = 100 * time.Millisecond
	DefaultFlushTimeout = 10 * time.Second
)

// FailureHandler is told about flushes the transport rejected.
type FailureHandler func(deviceID string, commands []domain.DeviceStatus, err error)

// SendQueue batches status writes for one device. Each Enqueue applies the
// writes to the status store right away, merges them into the pending batch
// (last write per code wins) and restarts the quiet period. The batch is sent
// in a single call once no write has arrived for the debounce duration.
type SendQueue struct {
	device       DeviceModel
	sender       CommandSender
	logger       *slog.Logger
	observer     SendObserver
	onFailure    FailureHandler
	debounce     time.Duration
	flushTimeout time.Duration

	mu      sync.Mutex
	pending []domain.DeviceStatus
	timer   *time.Timer
	gen     uint64
	closed  bool

	inflight sync.WaitGroup
	// sendMu keeps batches reaching the device in the order they were taken.
	sendMu sync.Mutex
}

type SendQueueOption func(*SendQueue)

func WithDebounce(d time.Duration) SendQueueOption {
	return func(q *SendQueue) {
		if d > 0 {
			q.debounce = d
		}
	}
}

func WithFlushTimeout(d time.Duration) SendQueueOption {
	return func(q *SendQueue) {
		if d > 0 {
			q.flushTimeout = d
		}
	}
}

func WithSendObserver(o SendObserver) SendQueueOption {
	return func(q *SendQueue) {
		if o != nil {
			q.observer = o
		}
	}
}

func WithFailureHandler(fn FailureHandler) SendQueueOption {
	return func(q *SendQueue) {
		q.onFailure = fn
	}
}

func WithLogger(logger *slog.Logger) SendQueueOption {
	return func(q *SendQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func NewSendQueue(device DeviceModel, sender CommandSender, opts ...SendQueueOption) *SendQueue {
	q := &SendQueue{
		device:       device,
		sender:       sender,
		logger:       slog.Default(),
		observer:     noopObserver{},
		debounce:     DefaultDebounce,
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("device", device.ID())
	return q
}

func (q *SendQueue) Enqueue(commands ...domain.DeviceStatus) {
	if len(commands) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cmd := range commands {
		q.device.UpdateStatus(cmd.Code, cmd.Value)

		merged := false
		for i := range q.pending {
			if q.pending[i].Code == cmd.Code {
				q.pending[i].Value = cmd.Value
				merged = true
				break
			}
		}
		if !merged {
			q.pending = append(q.pending, cmd)
		}
	}
	q.observer.CommandsEnqueued(q.device.ID(), len(commands))

	if q.closed {
		return
	}

	// Trailing edge: every call supersedes the previously scheduled flush.
	// A timer that already fired sees a stale generation and does nothing.
	if q.timer != nil {
		q.timer.Stop()
	}
	q.gen++
	gen := q.gen
	q.timer = time.AfterFunc(q.debounce, func() { q.fire(gen) })
}

// Pending returns a copy of the writes waiting for the next flush.
func (q *SendQueue) Pending() []domain.DeviceStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.DeviceStatus, len(q.pending))
	copy(out, q.pending)
	return out
}

// pendingValue returns the queued value for code, if any.
func (q *SendQueue) pendingValue(code string) (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cmd := range q.pending {
		if cmd.Code == code {
			return cmd.Value, true
		}
	}
	return nil, false
}

// Flush sends the pending batch now instead of waiting for the quiet period.
func (q *SendQueue) Flush(ctx context.Context) error {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	q.mu.Lock()
	batch := q.take()
	q.mu.Unlock()

	return q.send(ctx, batch)
}

// Close cancels the scheduled flush, waits for in-flight sends and sends
// whatever is still pending. Later writes still reach the status store and
// the queue but are only sent by an explicit Flush.
func (q *SendQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	batch := q.take()
	q.mu.Unlock()

	q.inflight.Wait()

	q.sendMu.Lock()
	defer q.sendMu.Unlock()
	return q.send(ctx, batch)
}

func (q *SendQueue) fire(gen uint64) {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	q.mu.Lock()
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		return
	}
	batch := q.take()
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), q.flushTimeout)
	defer cancel()

	// Errors were already logged and reported by send.
	_ = q.send(ctx, batch)
}

// take swaps out the pending batch and disarms the timer. Callers hold q.mu.
func (q *SendQueue) take() []domain.DeviceStatus {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *SendQueue) send(ctx context.Context, batch []domain.DeviceStatus) error {
	if len(batch) == 0 {
		return nil
	}

	deviceID := q.device.ID()
	start := time.Now()
	err := q.sender.SendCommands(ctx, deviceID, batch)
	q.observer.FlushCompleted(deviceID, len(batch), time.Since(start), err)

	if err != nil {
		q.logger.Error("sending commands", "commands", len(batch), "error", err)
		if q.onFailure != nil {
			q.onFailure(deviceID, batch, err)
		}
		return fmt.Errorf("sending commands to %s: %w", deviceID, err)
	}

	q.logger.Debug("commands sent", "commands", len(batch))
	return nil
}
