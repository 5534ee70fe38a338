package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	cfg *WebhookConfig
}

func (p staticProvider) GetWebhookConfig(ctx context.Context, instanceID string) (*WebhookConfig, error) {
	return p.cfg, nil
}

func fastWebhookConfig() WebhookWorkerConfig {
	return WebhookWorkerConfig{
		Workers:     2,
		QueueSize:   32,
		Timeout:     time.Second,
		MaxAttempts: 3,
		RetryBase:   5 * time.Millisecond,
		RetryCap:    20 * time.Millisecond,
	}
}

func testEvent(seq uint64) *Event {
	return &Event{
		InstanceID: "t1",
		Seq:        seq,
		Kind:       KindMessage,
		Payload:    map[string]any{"text": "hi"},
		ReceivedAt: time.Now().UTC(),
	}
}

func TestWebhookDeliverySignsPayload(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var sigs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		sigs = append(sigs, r.Header.Get("X-Hub-Signature-256"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookWorker(fastWebhookConfig(),
		staticProvider{&WebhookConfig{URL: srv.URL, Secret: "s3cret", Enabled: true}},
		nil, testLogger())
	defer w.Close()

	w.Consume(testEvent(7))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(bodies[0])
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), sigs[0])
	assert.Contains(t, string(bodies[0]), `"seq":7`)
	assert.Contains(t, string(bodies[0]), `"instance_id":"t1"`)
}

func TestWebhookRetriesThenExhausts(t *testing.T) {
	var count int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var reports []DeliveryReport
	var rmu sync.Mutex
	report := func(r DeliveryReport) {
		rmu.Lock()
		reports = append(reports, r)
		rmu.Unlock()
	}

	w := NewWebhookWorker(fastWebhookConfig(),
		staticProvider{&WebhookConfig{URL: srv.URL, Enabled: true}},
		report, testLogger())
	defer w.Close()

	w.Consume(testEvent(1))

	require.Eventually(t, func() bool {
		rmu.Lock()
		defer rmu.Unlock()
		return len(reports) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give any stray retry a chance to fire, then confirm nothing did.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, count, "delivery attempted exactly MaxAttempts times")
	mu.Unlock()

	rmu.Lock()
	defer rmu.Unlock()
	require.Len(t, reports, 1, "exhaustion reported exactly once")
	assert.Equal(t, "t1", reports[0].InstanceID)
	assert.Equal(t, uint64(1), reports[0].Seq)
	assert.Equal(t, 3, reports[0].Attempts)
}

func TestWebhookDroppedRetryIsReported(t *testing.T) {
	var reports []DeliveryReport
	var rmu sync.Mutex
	report := func(r DeliveryReport) {
		rmu.Lock()
		reports = append(reports, r)
		rmu.Unlock()
	}

	w := NewWebhookWorker(fastWebhookConfig(), staticProvider{nil}, report, testLogger())
	defer w.Close()

	// Park every worker on a stalled request, then fill the queue so the
	// next enqueue overflows.
	block := make(chan struct{})
	var parked sync.WaitGroup
	parked.Add(w.cfg.Workers)
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if served.Add(1) <= int32(w.cfg.Workers) {
			parked.Done()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	for i := 0; i < w.cfg.Workers; i++ {
		w.enqueue(&DeliveryTask{Event: testEvent(uint64(i + 1)), URL: srv.URL})
	}
	parked.Wait()
	for i := 0; i < w.cfg.QueueSize; i++ {
		w.enqueue(&DeliveryTask{Event: testEvent(uint64(10 + i)), URL: srv.URL})
	}

	// A first-attempt task drops silently (the counter covers it).
	w.enqueue(&DeliveryTask{Event: testEvent(100), URL: srv.URL})
	rmu.Lock()
	assert.Empty(t, reports, "fresh task drop must not report exhaustion")
	rmu.Unlock()

	// A retrying task drop ends its delivery chain and must be reported.
	w.enqueue(&DeliveryTask{Event: testEvent(101), URL: srv.URL, Attempts: 2, LastErr: "502"})
	rmu.Lock()
	require.Len(t, reports, 1)
	assert.Equal(t, uint64(101), reports[0].Seq)
	assert.Equal(t, 2, reports[0].Attempts)
	assert.Equal(t, "502", reports[0].LastError)
	rmu.Unlock()

	assert.Equal(t, uint64(2), w.Dropped())
}

func TestWebhookKindFiltering(t *testing.T) {
	var mu sync.Mutex
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookWorker(fastWebhookConfig(),
		staticProvider{&WebhookConfig{URL: srv.URL, Enabled: true, Kinds: []EventKind{KindMessage}}},
		nil, testLogger())
	defer w.Close()

	presence := testEvent(1)
	presence.Kind = KindPresence
	w.Consume(presence)
	w.Consume(testEvent(2))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "presence event filtered out")
}

func TestWebhookDisabledOrAbsentConfig(t *testing.T) {
	var mu sync.Mutex
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	defer srv.Close()

	t.Run("disabled", func(t *testing.T) {
		w := NewWebhookWorker(fastWebhookConfig(),
			staticProvider{&WebhookConfig{URL: srv.URL, Enabled: false}}, nil, testLogger())
		defer w.Close()
		w.Consume(testEvent(1))
	})

	t.Run("absent", func(t *testing.T) {
		w := NewWebhookWorker(fastWebhookConfig(), staticProvider{nil}, nil, testLogger())
		defer w.Close()
		w.Consume(testEvent(1))
	})

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}
