package core

import (
	"context"
	"sort"
	"time"

	"sync"

	"github.com/rs/zerolog"
)

// Config carries every core tunable. Zero values fall back to defaults.
type Config struct {
	Supervisor     SupervisorConfig
	Outbound       OutboundConfig
	ConsumerBuffer int           // per-consumer dispatch queue depth
	StopGrace      time.Duration // how long Stop/Shutdown waits for teardown
}

func (c Config) withDefaults() Config {
	if c.ConsumerBuffer <= 0 {
		c.ConsumerBuffer = 64
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	return c
}

// Registry owns the instance id to supervisor mapping and is the single
// serialization point that keeps at most one live supervisor per instance.
// Terminal supervisors stay registered so status remains queryable; a new
// Start replaces them.
type Registry struct {
	cfg       Config
	creds     CredentialStore
	factory   ClientFactory
	consumers []Consumer
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Supervisor
}

func NewRegistry(cfg Config, creds CredentialStore, factory ClientFactory, consumers []Consumer, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:       cfg.withDefaults(),
		creds:     creds,
		factory:   factory,
		consumers: consumers,
		log:       log,
		sessions:  make(map[string]*Supervisor),
	}
}

// Start registers a supervisor for the instance and launches its lifecycle.
// Returns the initializing snapshot immediately. Fails with ErrAlreadyActive
// when a non-terminal supervisor is already registered.
func (r *Registry) Start(instanceID string, opts StartOptions) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[instanceID]; ok {
		if !existing.Snapshot().State.Terminal() {
			return nil, ErrAlreadyActive
		}
	}

	sup := newSupervisor(instanceID, opts, r.cfg.Supervisor, r.cfg.Outbound,
		r.creds, r.factory, r.consumers, r.cfg.ConsumerBuffer, r.log)
	r.sessions[instanceID] = sup
	go sup.run()

	r.log.Info().Str("instance_id", instanceID).Bool("allow_buffering", opts.AllowBuffering).
		Msg("session started")
	return sup.Snapshot(), nil
}

// Stop signals the instance's supervisor to disconnect and waits up to the
// stop grace period. Idempotent: stopping a stopped session is a no-op.
func (r *Registry) Stop(ctx context.Context, instanceID string, logout bool) error {
	r.mu.Lock()
	sup, ok := r.sessions[instanceID]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.StopGrace)
		defer cancel()
	}
	return sup.Stop(ctx, logout)
}

// Status returns the current snapshot, or ErrNotFound when the instance was
// never started.
func (r *Registry) Status(instanceID string) (*Snapshot, error) {
	r.mu.Lock()
	sup, ok := r.sessions[instanceID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sup.Snapshot(), nil
}

// Enqueue hands an outbound request to the instance's queue.
func (r *Registry) Enqueue(instanceID string, req *OutboundRequest) (*OutboundRequest, error) {
	r.mu.Lock()
	sup, ok := r.sessions[instanceID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sup.Enqueue(req)
}

// CheckTarget verifies a recipient through the session's protocol client.
func (r *Registry) CheckTarget(ctx context.Context, instanceID, target string) (bool, error) {
	r.mu.Lock()
	sup, ok := r.sessions[instanceID]
	r.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}
	return sup.CheckTarget(ctx, target)
}

// List returns current snapshots for every registered session, ordered by
// instance id. Re-querying reflects current state.
func (r *Registry) List() []*Snapshot {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sessions))
	for _, sup := range r.sessions {
		sups = append(sups, sup)
	}
	r.mu.Unlock()

	out := make([]*Snapshot, 0, len(sups))
	for _, sup := range sups {
		out = append(out, sup.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Shutdown drains every active supervisor concurrently: each disconnects
// gracefully and persists its latest credential state. Returns once all are
// done or ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sessions))
	for _, sup := range r.sessions {
		sups = append(sups, sup)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(sups))
	for _, sup := range sups {
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			if err := sup.Stop(ctx, false); err != nil {
				errs <- err
			}
		}(sup)
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errs:
		return err
	default:
	}
	r.log.Info().Int("sessions", len(sups)).Msg("registry drained")
	return nil
}
