package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendRecorder struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *sendRecorder) send(ctx context.Context, req *OutboundRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, req.Content)
	return "srv-id", nil
}

func (r *sendRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func TestOutboundRejectsWhenNotConnected(t *testing.T) {
	q := NewOutboundQueue("t1", fastOutboundConfig(), testLogger())

	_, err := q.Enqueue(&OutboundRequest{Target: "a", Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotConnected)
}

func TestOutboundBuffersWhenAllowed(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())

	_, err := q.Enqueue(&OutboundRequest{Target: "a", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Depth())
}

func TestOutboundQueueFull(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	cfg.MaxDepth = 1
	q := NewOutboundQueue("t1", cfg, testLogger())

	_, err := q.Enqueue(&OutboundRequest{Content: "one"})
	require.NoError(t, err)
	_, err = q.Enqueue(&OutboundRequest{Content: "two"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestOutboundFIFOOrder(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())
	rec := &sendRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, rec.send)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := q.Enqueue(&OutboundRequest{Target: "a", Content: msg})
		require.NoError(t, err)
	}
	q.SetConnected(true)

	require.Eventually(t, func() bool { return len(rec.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, rec.messages())
	assert.Equal(t, 0, q.Depth())
}

func TestOutboundHoldsOrderAcrossReconnect(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())
	rec := &sendRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, rec.send)

	q.SetConnected(true)
	_, err := q.Enqueue(&OutboundRequest{Content: "before"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, 5*time.Millisecond)

	// Transport drops: gate closes, new sends buffer behind it.
	q.SetConnected(false)
	_, err = q.Enqueue(&OutboundRequest{Content: "during-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(&OutboundRequest{Content: "during-2"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"before"}, rec.messages(), "nothing may be sent while disconnected")

	q.SetConnected(true)
	require.Eventually(t, func() bool { return len(rec.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"before", "during-1", "during-2"}, rec.messages())
}

func TestOutboundIdempotencyKeyDedup(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())
	rec := &sendRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, rec.send)

	first, err := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)

	dup, err := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.NotSame(t, first, dup, "dedup hit returns a snapshot, not the live request")
	assert.Equal(t, first.IdempotencyKey, dup.IdempotencyKey)
	assert.Equal(t, first.EnqueuedAt, dup.EnqueuedAt)

	q.SetConnected(true)
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, 5*time.Millisecond)

	// Still deduplicated after the send completed, within the window, and
	// the snapshot carries the acknowledged message id once the pop lands.
	require.Eventually(t, func() bool {
		d, e := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
		return errors.Is(e, ErrDuplicateRequest) && d.MessageID == "srv-id"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hi"}, rec.messages())
}

func TestOutboundDuplicateSnapshotDuringAck(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())
	rec := &sendRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, rec.send)

	first, err := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)

	// Hammer duplicate submissions while the original is acknowledged;
	// every returned request must be a private snapshot whose MessageID
	// is safe to read without synchronization.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			dup, dupErr := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
			if !errors.Is(dupErr, ErrDuplicateRequest) {
				continue
			}
			if dup == first {
				t.Error("duplicate enqueue leaked the live request pointer")
				return
			}
			_ = dup.MessageID
		}
	}()

	q.SetConnected(true)
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, 5*time.Millisecond)
	<-done
}

func TestOutboundDedupWindowExpires(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	cfg.DedupWindow = 10 * time.Millisecond
	q := NewOutboundQueue("t1", cfg, testLogger())

	_, err := q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = q.Enqueue(&OutboundRequest{Content: "hi", IdempotencyKey: "k1"})
	assert.NoError(t, err, "expired key accepts a fresh submission")
}

func TestOutboundRetriesFailedSendInPlace(t *testing.T) {
	cfg := fastOutboundConfig()
	cfg.AllowBuffering = true
	q := NewOutboundQueue("t1", cfg, testLogger())
	rec := &sendRecorder{err: errors.New("transport down")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, rec.send)

	req, err := q.Enqueue(&OutboundRequest{Content: "hi"})
	require.NoError(t, err)
	q.SetConnected(true)

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return req.Attempts >= 2
	}, time.Second, 5*time.Millisecond, "failed send retries without losing the request")
	assert.Equal(t, 1, q.Depth(), "request holds its queue position")

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Depth())
}
