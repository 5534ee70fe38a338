package core

import (
	"context"
	"time"

	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// OutboundRequest is one queued send. Owned by the queue until acknowledged
// or rejected at enqueue time.
type OutboundRequest struct {
	InstanceID     string    `json:"instance_id"`
	Target         string    `json:"target"`
	Content        string    `json:"content"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
	MessageID      string    `json:"message_id,omitempty"`
}

// OutboundConfig tunes one session's outbound queue.
type OutboundConfig struct {
	MaxDepth       int           // queue depth bound
	Rate           float64       // sends per second, 0 disables limiting
	Burst          int           // token bucket burst
	SendTimeout    time.Duration // per-send acknowledgment timeout
	RetryDelay     time.Duration // pause after a failed send before retrying
	DedupWindow    time.Duration // idempotency key retention
	AllowBuffering bool          // accept sends while not connected
}

func (c OutboundConfig) withDefaults() OutboundConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 256
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Minute
	}
	return c
}

// SendFunc performs one protocol-level send and returns the server id.
type SendFunc func(ctx context.Context, req *OutboundRequest) (string, error)

type seenEntry struct {
	req *OutboundRequest
	at  time.Time
}

// OutboundQueue is a per-session FIFO of send requests. A single dispatch
// loop pulls one request at a time and awaits acknowledgment before the next,
// so per-session send order holds even across reconnects: a failed send stays
// at the head until the connection gate reopens.
type OutboundQueue struct {
	instanceID string
	cfg        OutboundConfig
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu        sync.Mutex
	items     []*OutboundRequest
	seen      map[string]seenEntry
	connected bool
	gate      chan struct{} // closed while connected
	wake      chan struct{}
}

func NewOutboundQueue(instanceID string, cfg OutboundConfig, log zerolog.Logger) *OutboundQueue {
	cfg = cfg.withDefaults()
	q := &OutboundQueue{
		instanceID: instanceID,
		cfg:        cfg,
		log:        log.With().Str("instance_id", instanceID).Logger(),
		seen:       make(map[string]seenEntry),
		gate:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	if cfg.Rate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}
	return q
}

// Enqueue appends a request to the FIFO. Fails with ErrSessionNotConnected
// when the session is down and buffering is off, ErrQueueFull on overflow,
// and ErrDuplicateRequest (with the original request) on an idempotency hit.
func (q *OutboundQueue) Enqueue(req *OutboundRequest) (*OutboundRequest, error) {
	now := time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked(now)
	if req.IdempotencyKey != "" {
		if entry, ok := q.seen[req.IdempotencyKey]; ok {
			// Snapshot under the lock; pop writes MessageID on the
			// live request when the ack lands.
			dup := *entry.req
			return &dup, ErrDuplicateRequest
		}
	}
	if !q.connected && !q.cfg.AllowBuffering {
		return nil, ErrSessionNotConnected
	}
	if len(q.items) >= q.cfg.MaxDepth {
		return nil, ErrQueueFull
	}

	req.InstanceID = q.instanceID
	req.EnqueuedAt = now
	q.items = append(q.items, req)
	if req.IdempotencyKey != "" {
		q.seen[req.IdempotencyKey] = seenEntry{req: req, at: now}
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return req, nil
}

func (q *OutboundQueue) pruneLocked(now time.Time) {
	for key, entry := range q.seen {
		if now.Sub(entry.at) > q.cfg.DedupWindow {
			delete(q.seen, key)
		}
	}
}

// SetConnected opens or closes the dispatch gate. Called by the supervisor
// on every connection state change.
func (q *OutboundQueue) SetConnected(connected bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if connected == q.connected {
		return
	}
	q.connected = connected
	if connected {
		close(q.gate)
	} else {
		q.gate = make(chan struct{})
	}
}

// Depth returns the number of pending requests.
func (q *OutboundQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run is the single dispatch loop. It blocks until ctx is cancelled.
func (q *OutboundQueue) Run(ctx context.Context, send SendFunc) {
	for {
		req := q.peek(ctx)
		if req == nil {
			return
		}
		if !q.waitConnected(ctx) {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
		}

		sctx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		id, err := send(sctx, req)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.mu.Lock()
			req.Attempts++
			q.mu.Unlock()
			q.log.Warn().Err(err).Str("target", req.Target).Int("attempts", req.Attempts).
				Msg("outbound send failed, holding queue position")
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.RetryDelay):
			}
			continue
		}

		q.pop(req, id)
		q.log.Debug().Str("message_id", id).Str("target", req.Target).Msg("outbound send acknowledged")
	}
}

// peek blocks until a request is at the head of the queue or ctx is done.
func (q *OutboundQueue) peek(ctx context.Context) *OutboundRequest {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.mu.Unlock()
			return req
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

func (q *OutboundQueue) waitConnected(ctx context.Context) bool {
	for {
		q.mu.Lock()
		if q.connected {
			q.mu.Unlock()
			return true
		}
		gate := q.gate
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-gate:
		}
	}
}

func (q *OutboundQueue) pop(req *OutboundRequest, messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req.MessageID = messageID
	if len(q.items) > 0 && q.items[0] == req {
		q.items = q.items[1:]
	}
}
