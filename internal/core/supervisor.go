package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"sync"

	"github.com/rs/zerolog"
)

// State is a supervisor lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLoggedOut    State = "logged_out"
	StateTerminated   State = "terminated"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateLoggedOut || s == StateTerminated
}

// SupervisorConfig tunes one session's lifecycle timing.
type SupervisorConfig struct {
	PairingTimeout time.Duration // whole pairing handshake budget
	ConnectTimeout time.Duration // single connect attempt budget
	ReconnectBase  time.Duration // first backoff delay
	ReconnectCap   time.Duration // backoff ceiling
	ReconnectMax   int           // attempt ceiling before terminating
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 3 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = time.Minute
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 10
	}
	return c
}

// StartOptions are caller-supplied per-session options.
type StartOptions struct {
	// AllowBuffering accepts outbound sends while the session is not
	// connected, up to the queue depth bound. Off by default: sends against
	// a down session fail fast.
	AllowBuffering bool
}

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	InstanceID        string            `json:"instance_id"`
	State             State             `json:"state"`
	JID               string            `json:"jid,omitempty"`
	LastSeen          time.Time         `json:"last_seen,omitempty"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
	LastError         string            `json:"last_error,omitempty"`
	PairingCode       string            `json:"pairing_code,omitempty"`
	PairingExpiresAt  time.Time         `json:"pairing_expires_at,omitempty"`
	QueueDepth        int               `json:"queue_depth"`
	DroppedEvents     map[string]uint64 `json:"dropped_events,omitempty"`
}

// errStopped marks a clean, caller-requested shutdown path internally.
var errStopped = errors.New("supervisor stopped")

// Supervisor owns one instance's protocol connection end to end: credential
// lookup, pairing, the connected event loop, reconnection with backoff, and
// terminal teardown. Exactly one supervisor per instance is live at a time
// (the registry enforces it); the connection handle never leaves this struct.
type Supervisor struct {
	instanceID string
	opts       StartOptions
	cfg        SupervisorConfig
	creds      CredentialStore
	factory    ClientFactory
	dispatcher *Dispatcher
	outbound   *OutboundQueue
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       State
	jid         string
	lastSeen    time.Time
	attempts    int
	lastErr     error
	pairCode    string
	pairExpires time.Time
	logout      bool

	client ProtocolClient
}

func newSupervisor(instanceID string, opts StartOptions, cfg SupervisorConfig, outCfg OutboundConfig,
	creds CredentialStore, factory ClientFactory, consumers []Consumer, buffer int, log zerolog.Logger) *Supervisor {

	cfg = cfg.withDefaults()
	outCfg.AllowBuffering = opts.AllowBuffering

	ctx, cancel := context.WithCancel(context.Background())
	slog := log.With().Str("instance_id", instanceID).Logger()
	return &Supervisor{
		instanceID: instanceID,
		opts:       opts,
		cfg:        cfg,
		creds:      creds,
		factory:    factory,
		dispatcher: NewDispatcher(instanceID, consumers, buffer, log),
		outbound:   NewOutboundQueue(instanceID, outCfg, log),
		log:        slog,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateInitializing,
	}
}

// Snapshot returns the current state without blocking the lifecycle.
func (s *Supervisor) Snapshot() *Snapshot {
	s.mu.Lock()
	snap := &Snapshot{
		InstanceID:        s.instanceID,
		State:             s.state,
		JID:               s.jid,
		LastSeen:          s.lastSeen,
		ReconnectAttempts: s.attempts,
		PairingCode:       s.pairCode,
		PairingExpiresAt:  s.pairExpires,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	snap.QueueDepth = s.outbound.Depth()
	snap.DroppedEvents = s.dispatcher.Dropped()
	return snap
}

// Enqueue hands a send request to the session's outbound queue.
func (s *Supervisor) Enqueue(req *OutboundRequest) (*OutboundRequest, error) {
	s.mu.Lock()
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal {
		return nil, ErrSessionNotConnected
	}
	return s.outbound.Enqueue(req)
}

// CheckTarget verifies a recipient through the protocol client when the
// client supports it; clients without the capability accept everything.
func (s *Supervisor) CheckTarget(ctx context.Context, target string) (bool, error) {
	s.mu.Lock()
	client := s.client
	connected := s.state == StateConnected
	s.mu.Unlock()
	if client == nil || !connected {
		return false, ErrSessionNotConnected
	}
	checker, ok := client.(TargetChecker)
	if !ok {
		return true, nil
	}
	return checker.CheckTarget(ctx, target)
}

// Stop requests shutdown and waits for the lifecycle to finish or ctx to
// expire. Idempotent. With logout the remote session and the stored
// credential are invalidated.
func (s *Supervisor) Stop(ctx context.Context, logout bool) error {
	s.mu.Lock()
	if logout {
		s.logout = true
	}
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The run loop may have finished before it saw the logout flag, so make
	// sure the credential is gone. Deletion is idempotent.
	if logout {
		if err := s.creds.DeleteCredential(ctx, s.instanceID); err != nil && !errors.Is(err, ErrNoCredential) {
			return err
		}
	}
	return nil
}

func (s *Supervisor) run() {
	err := s.lifecycle()
	s.shutdown(err)
	close(s.done)
}

func (s *Supervisor) lifecycle() error {
	cred, err := s.creds.LoadCredential(s.ctx, s.instanceID)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		return fmt.Errorf("credential lookup: %w", err)
	}

	client, err := s.factory(s.ctx, s.instanceID, cred)
	if err != nil {
		return fmt.Errorf("protocol client: %w", err)
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	go s.outbound.Run(s.ctx, func(ctx context.Context, req *OutboundRequest) (string, error) {
		return client.SendText(ctx, req.Target, req.Content)
	})

	if client.HasCredentials() {
		if err := s.connect(); err != nil {
			if s.ctx.Err() != nil {
				return errStopped
			}
			// First connect failed with valid credentials: treat like a
			// transport drop and let the backoff policy take over.
			s.noteError(fmt.Errorf("%w: %v", ErrTransportDisconnected, err))
			if err := s.reconnectLoop(); err != nil {
				return err
			}
		}
	} else {
		if err := s.pair(); err != nil {
			return err
		}
	}

	return s.serve()
}

func (s *Supervisor) connect() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.client.Connect(ctx)
}

func (s *Supervisor) pair() error {
	s.setState(StatePairing)
	s.log.Info().Msg("no stored credentials, starting pairing")

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PairingTimeout)
	defer cancel()

	ch, err := s.client.Pair(ctx)
	if err != nil {
		s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "failed", "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrPairingRejected, err)
	}

	for {
		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				return errStopped
			}
			s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "timeout"})
			return ErrPairingTimeout

		case res, ok := <-ch:
			if !ok {
				s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "failed", "error": "pairing channel closed"})
				return ErrPairingRejected
			}
			switch {
			case res.Err != nil:
				if errors.Is(res.Err, ErrPairingTimeout) {
					s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "timeout"})
					return ErrPairingTimeout
				}
				s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "failed", "error": res.Err.Error()})
				return fmt.Errorf("%w: %v", ErrPairingRejected, res.Err)

			case res.Done:
				s.mu.Lock()
				s.pairCode = ""
				s.pairExpires = time.Time{}
				s.mu.Unlock()
				if len(res.Cred) > 0 {
					if err := s.saveCredential(res.Cred); err != nil {
						s.log.Error().Err(err).Msg("failed to persist credential after pairing")
					}
				}
				s.dispatcher.Dispatch(KindPairing, map[string]any{"status": "paired"})
				s.log.Info().Msg("pairing confirmed")
				return nil

			default:
				s.mu.Lock()
				s.pairCode = res.Code
				s.pairExpires = res.ExpiresAt
				s.mu.Unlock()
				s.dispatcher.Dispatch(KindPairing, map[string]any{
					"status":     "challenge",
					"code":       res.Code,
					"expires_at": res.ExpiresAt,
				})
			}
		}
	}
}

// serve is the connected event loop. Returns ErrLoggedOut on remote
// invalidation, ErrReconnectExhausted when the attempt ceiling is hit, or
// errStopped on caller shutdown.
func (s *Supervisor) serve() error {
	s.markConnected()
	for {
		select {
		case <-s.ctx.Done():
			return errStopped

		case ev, ok := <-s.client.Events():
			if !ok {
				ev = ClientEvent{Kind: ClientDisconnected}
			}
			switch ev.Kind {
			case ClientLoggedOut:
				s.dispatcher.Dispatch(KindConnection, map[string]any{"status": "logged_out"})
				return ErrLoggedOut

			case ClientDisconnected:
				s.outbound.SetConnected(false)
				s.setState(StateReconnecting)
				s.noteError(ErrTransportDisconnected)
				s.dispatcher.Dispatch(KindConnection, map[string]any{"status": "reconnecting"})
				s.log.Warn().Msg("transport disconnected, reconnecting")
				if err := s.reconnectLoop(); err != nil {
					return err
				}
				s.markConnected()

			case ClientConnected:
				s.noteSeen()
				s.setJID(ev.JID)
				s.dispatcher.Dispatch(KindConnection, map[string]any{"status": "online", "jid": ev.JID})

			case ClientCredentials:
				s.noteSeen()
				if err := s.saveCredential(ev.Blob); err != nil {
					s.log.Error().Err(err).Msg("failed to persist credential update")
				}
				s.dispatcher.Dispatch(KindCredentials, map[string]any{"updated_at": time.Now().UTC()})

			case ClientMessage:
				s.noteSeen()
				s.dispatcher.Dispatch(KindMessage, ev.Payload)

			case ClientPresence:
				s.noteSeen()
				s.dispatcher.Dispatch(KindPresence, ev.Payload)
			}
		}
	}
}

// reconnectLoop retries the connection with exponential backoff and jitter
// until it succeeds, the attempt ceiling is hit, or the supervisor stops.
func (s *Supervisor) reconnectLoop() error {
	for attempt := 1; ; attempt++ {
		if attempt > s.cfg.ReconnectMax {
			return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, s.cfg.ReconnectMax)
		}
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		delay := s.backoffDelay(attempt)
		s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect backoff")
		select {
		case <-s.ctx.Done():
			return errStopped
		case <-time.After(delay):
		}

		err := s.connect()
		if err == nil {
			return nil
		}
		if s.ctx.Err() != nil {
			return errStopped
		}
		s.noteError(fmt.Errorf("%w: %v", ErrTransportDisconnected, err))
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}
}

func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	d := s.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.ReconnectCap {
			d = s.cfg.ReconnectCap
			break
		}
	}
	// Up to 25% jitter so a fleet of sessions does not thunder in lockstep.
	if j := int64(d / 4); j > 0 {
		d += time.Duration(rand.Int64N(j))
	}
	return d
}

// shutdown runs the terminal transition: settle state, tear the client down,
// flush the dispatcher.
func (s *Supervisor) shutdown(cause error) {
	s.outbound.SetConnected(false)

	s.mu.Lock()
	logout := s.logout
	client := s.client
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final := StateTerminated
	switch {
	case cause == nil || errors.Is(cause, errStopped):
		cause = nil
	case errors.Is(cause, ErrLoggedOut):
		final = StateLoggedOut
		logout = true
	}

	if logout {
		if client != nil && !errors.Is(cause, ErrLoggedOut) {
			if err := client.Logout(ctx); err != nil {
				s.log.Warn().Err(err).Msg("remote logout failed")
			}
		}
		if err := s.creds.DeleteCredential(ctx, s.instanceID); err != nil && !errors.Is(err, ErrNoCredential) {
			s.log.Warn().Err(err).Msg("failed to discard credential")
		}
	}

	if client != nil {
		client.Disconnect()
	}

	s.mu.Lock()
	s.state = final
	s.lastErr = cause
	s.mu.Unlock()

	payload := map[string]any{"status": string(final)}
	if cause != nil {
		payload["error"] = cause.Error()
		s.log.Error().Err(cause).Str("state", string(final)).Msg("session ended")
	} else {
		s.log.Info().Str("state", string(final)).Msg("session stopped")
	}
	s.dispatcher.Dispatch(KindConnection, payload)
	s.dispatcher.Close()
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	s.state = StateConnected
	s.attempts = 0
	s.lastErr = nil
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()
	s.outbound.SetConnected(true)
}

func (s *Supervisor) saveCredential(blob []byte) error {
	return s.creds.SaveCredential(s.ctx, &Credential{
		InstanceID: s.instanceID,
		Blob:       blob,
		UpdatedAt:  time.Now().UTC(),
	})
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) setJID(jid string) {
	if jid == "" {
		return
	}
	s.mu.Lock()
	s.jid = jid
	s.mu.Unlock()
}

func (s *Supervisor) noteSeen() {
	s.mu.Lock()
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Supervisor) noteError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
