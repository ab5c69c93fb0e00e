// ABOUTME: Fire-and-forget read-receipt coordinator driven by lifecycle transitions
// ABOUTME: Coalesces per conversation, skips acknowledged positions, paces calls with a token bucket

package receipts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/convo-sync/internal/dedupe"
	"github.com/2389/convo-sync/internal/metrics"
	"golang.org/x/time/rate"
)

// Marker persists a read position on the server.
type Marker interface {
	MarkRead(ctx context.Context, convoID string, upTo int64) error
}

// Config controls pacing and the acknowledgement window.
type Config struct {
	// RatePerSecond caps mark-as-read calls across all conversations.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	// DedupeWindow is how long an acknowledged position is not re-sent.
	DedupeWindow time.Duration
	DedupeSize   int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		RatePerSecond: 5,
		Burst:         5,
		Timeout:       10 * time.Second,
		DedupeWindow:  5 * time.Minute,
		DedupeSize:    1024,
	}
}

type receiptKey struct {
	convoID string
	upTo    int64
}

// Coordinator sends read receipts in the background. Failures are logged and
// never surface to callers.
type Coordinator struct {
	marker  Marker
	cfg     Config
	limiter *rate.Limiter
	acked   *dedupe.Cache[receiptKey]
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[string]int64
	queue   []string
	closed  bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a coordinator around marker.
func New(marker Marker, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = d.DedupeWindow
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = d.DedupeSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		marker:  marker,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		acked:   dedupe.New[receiptKey](cfg.DedupeWindow, cfg.DedupeSize, time.Minute),
		logger:  logger.With("component", "read_receipts"),
		metrics: m,
		pending: make(map[string]int64),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// MarkRead queues a receipt for convoID up to seq upTo and returns at once.
// Positions of zero or below acknowledge nothing and are dropped.
// Repeated calls before the worker runs collapse to the highest position.
func (c *Coordinator) MarkRead(convoID string, upTo int64) {
	if convoID == "" || upTo <= 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev, queued := c.pending[convoID]
	if !queued {
		c.queue = append(c.queue, convoID)
		c.pending[convoID] = upTo
	} else if upTo > prev {
		c.pending[convoID] = upTo
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker. Queued receipts that have not started are dropped.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		<-c.done
		c.acked.Close()
	})
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			convoID, upTo, ok := c.next()
			if !ok {
				break
			}
			c.send(convoID, upTo)
			if c.ctx.Err() != nil {
				return
			}
		}
	}
}

func (c *Coordinator) next() (string, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return "", 0, false
	}
	convoID := c.queue[0]
	c.queue = c.queue[1:]
	upTo := c.pending[convoID]
	delete(c.pending, convoID)
	return convoID, upTo, true
}

func (c *Coordinator) send(convoID string, upTo int64) {
	key := receiptKey{convoID: convoID, upTo: upTo}
	if c.acked.CheckAndMark(key) {
		c.metrics.Receipt("skipped")
		return
	}

	if err := c.limiter.Wait(c.ctx); err != nil {
		c.acked.Forget(key)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	err := c.marker.MarkRead(ctx, convoID, upTo)
	cancel()

	if err != nil {
		c.acked.Forget(key)
		c.metrics.Receipt("error")
		c.logger.Warn("failed to mark conversation read", "convo_id", convoID, "up_to", upTo, "error", err)
		return
	}
	c.metrics.Receipt("ok")
	c.logger.Debug("marked conversation read", "convo_id", convoID, "up_to", upTo)
}
