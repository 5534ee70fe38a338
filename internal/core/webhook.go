package core

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// WebhookConfig is one tenant's delivery target. Empty Kinds means every
// event kind is delivered.
type WebhookConfig struct {
	URL     string      `json:"url"`
	Secret  string      `json:"secret,omitempty"`
	Kinds   []EventKind `json:"events,omitempty"`
	Enabled bool        `json:"enabled"`
}

// Wants reports whether the config subscribes to the given kind.
func (c *WebhookConfig) Wants(kind EventKind) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// WebhookConfigProvider resolves an instance's webhook target. A nil config
// with nil error means no webhook is configured.
type WebhookConfigProvider interface {
	GetWebhookConfig(ctx context.Context, instanceID string) (*WebhookConfig, error)
}

// DeliveryTask is one (event, webhook) delivery attempt chain.
type DeliveryTask struct {
	Event    *Event
	URL      string
	Secret   string
	Attempts int
	LastErr  string
}

// DeliveryReport describes an exhausted delivery. Emitted exactly once per
// task, then the task is discarded.
type DeliveryReport struct {
	InstanceID string
	Seq        uint64
	Kind       EventKind
	URL        string
	Attempts   int
	LastError  string
}

// Reporter receives exhausted-delivery reports. Must not block.
type Reporter func(DeliveryReport)

// WebhookWorkerConfig tunes the delivery pool.
type WebhookWorkerConfig struct {
	Workers     int
	QueueSize   int
	Timeout     time.Duration // per-attempt HTTP budget
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

func (c WebhookWorkerConfig) withDefaults() WebhookWorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 2 * time.Minute
	}
	return c
}

// WebhookWorker is a dispatcher consumer that delivers events to tenant
// webhooks with a fixed worker pool. Delivery is at-least-once: receivers
// dedupe on instance id plus sequence number (sent in the payload). Failures
// retry with exponential backoff; exhausted tasks are reported once and
// dropped. Nothing here ever feeds back into session state.
type WebhookWorker struct {
	cfg      WebhookWorkerConfig
	provider WebhookConfigProvider
	report   Reporter
	client   *http.Client
	log      zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	tasks   chan *DeliveryTask
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewWebhookWorker(cfg WebhookWorkerConfig, provider WebhookConfigProvider, report Reporter, log zerolog.Logger) *WebhookWorker {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	w := &WebhookWorker{
		cfg:      cfg,
		provider: provider,
		report:   report,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "webhook").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan *DeliveryTask, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

// Name implements Consumer.
func (w *WebhookWorker) Name() string { return "webhook" }

// Consume implements Consumer: resolve the instance's webhook config and
// enqueue a delivery task when one is configured for this event kind.
func (w *WebhookWorker) Consume(ev *Event) {
	cfg, err := w.provider.GetWebhookConfig(w.ctx, ev.InstanceID)
	if err != nil {
		w.log.Error().Err(err).Str("instance_id", ev.InstanceID).Msg("webhook config lookup failed")
		return
	}
	if cfg == nil || !cfg.Enabled || cfg.URL == "" || !cfg.Wants(ev.Kind) {
		return
	}
	w.enqueue(&DeliveryTask{Event: ev, URL: cfg.URL, Secret: cfg.Secret})
}

func (w *WebhookWorker) enqueue(task *DeliveryTask) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
		w.log.Warn().Str("instance_id", task.Event.InstanceID).Uint64("seq", task.Event.Seq).
			Int("attempts", task.Attempts).Msg("webhook task queue full, task dropped")
		// A task that already failed at least once has an open delivery
		// the configured endpoint is waiting on; dropping it ends the
		// retry chain, so it must surface through the exhaustion report.
		if task.Attempts > 0 && w.report != nil {
			if task.LastErr == "" {
				task.LastErr = "retry dropped: task queue full"
			}
			w.report(DeliveryReport{
				InstanceID: task.Event.InstanceID,
				Seq:        task.Event.Seq,
				Kind:       task.Event.Kind,
				URL:        task.URL,
				Attempts:   task.Attempts,
				LastError:  task.LastErr,
			})
		}
	}
}

// Dropped returns the count of tasks discarded because the queue was full.
func (w *WebhookWorker) Dropped() uint64 { return w.dropped.Load() }

// Close stops accepting retries and waits for in-flight deliveries.
func (w *WebhookWorker) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *WebhookWorker) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.tasks:
			w.deliver(task)
		}
	}
}

func (w *WebhookWorker) deliver(task *DeliveryTask) {
	task.Attempts++

	err := w.post(task)
	if err == nil {
		w.log.Debug().Str("instance_id", task.Event.InstanceID).Uint64("seq", task.Event.Seq).
			Str("url", task.URL).Int("attempts", task.Attempts).Msg("webhook delivered")
		return
	}
	task.LastErr = err.Error()

	if task.Attempts >= w.cfg.MaxAttempts {
		w.log.Error().Str("instance_id", task.Event.InstanceID).Uint64("seq", task.Event.Seq).
			Str("url", task.URL).Int("attempts", task.Attempts).Str("last_error", task.LastErr).
			Msg("webhook delivery exhausted")
		if w.report != nil {
			w.report(DeliveryReport{
				InstanceID: task.Event.InstanceID,
				Seq:        task.Event.Seq,
				Kind:       task.Event.Kind,
				URL:        task.URL,
				Attempts:   task.Attempts,
				LastError:  task.LastErr,
			})
		}
		return
	}

	delay := w.retryDelay(task.Attempts)
	w.log.Warn().Err(err).Str("instance_id", task.Event.InstanceID).Uint64("seq", task.Event.Seq).
		Int("attempts", task.Attempts).Dur("retry_in", delay).Msg("webhook delivery failed")
	time.AfterFunc(delay, func() {
		if w.ctx.Err() != nil {
			return
		}
		w.enqueue(task)
	})
}

func (w *WebhookWorker) retryDelay(attempts int) time.Duration {
	d := w.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.RetryCap {
			return w.cfg.RetryCap
		}
	}
	return d
}

func (w *WebhookWorker) post(task *DeliveryTask) error {
	body, err := json.Marshal(task.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instance-ID", task.Event.InstanceID)
	req.Header.Set("X-Event-Seq", fmt.Sprintf("%d", task.Event.Seq))
	if task.Secret != "" {
		mac := hmac.New(sha256.New, []byte(task.Secret))
		mac.Write(body)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
