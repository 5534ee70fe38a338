package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// fakeClient is a scripted ProtocolClient for lifecycle tests.
type fakeClient struct {
	mu          sync.Mutex
	hasCreds    bool
	connectErrs []error // consumed one per Connect call, then success
	connects    int
	pairSteps   []PairingResult
	pairErr     error
	sendErr     error
	sent        []string
	loggedOut   bool
	events      chan ClientEvent
}

func newFakeClient(hasCreds bool) *fakeClient {
	return &fakeClient{
		hasCreds: hasCreds,
		events:   make(chan ClientEvent, 32),
	}
}

func (f *fakeClient) HasCredentials() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasCreds
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) Disconnect() {}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeClient) Pair(ctx context.Context) (<-chan PairingResult, error) {
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	ch := make(chan PairingResult, len(f.pairSteps)+1)
	for _, step := range f.pairSteps {
		ch <- step
	}
	// Left open unless the script finished pairing; the supervisor's own
	// timeout covers the never-confirmed case.
	for _, step := range f.pairSteps {
		if step.Done || step.Err != nil {
			close(ch)
			break
		}
	}
	return ch, nil
}

func (f *fakeClient) SendText(ctx context.Context, target, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, content)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeClient) Events() <-chan ClientEvent { return f.events }

func (f *fakeClient) emit(ev ClientEvent) { f.events <- ev }

func (f *fakeClient) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeClient) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeClient) setConnectErrs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = errs
}

// memCredStore is an in-memory CredentialStore.
type memCredStore struct {
	mu sync.Mutex
	m  map[string]*Credential
}

func newMemCredStore() *memCredStore {
	return &memCredStore{m: make(map[string]*Credential)}
}

func (s *memCredStore) LoadCredential(ctx context.Context, instanceID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.m[instanceID]
	if !ok {
		return nil, ErrNoCredential
	}
	return cred, nil
}

func (s *memCredStore) SaveCredential(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cred.InstanceID] = cred
	return nil
}

func (s *memCredStore) DeleteCredential(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, instanceID)
	return nil
}

func (s *memCredStore) get(instanceID string) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[instanceID]
}

// collector records every event it consumes.
type collector struct {
	name string
	mu   sync.Mutex
	evs  []*Event
}

func newCollector(name string) *collector { return &collector{name: name} }

func (c *collector) Name() string { return c.name }

func (c *collector) Consume(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
}

func (c *collector) events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.evs))
	copy(out, c.evs)
	return out
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.evs))
	for i, ev := range c.evs {
		out[i] = ev.Seq
	}
	return out
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PairingTimeout: 2 * time.Second,
		ConnectTimeout: time.Second,
		ReconnectBase:  time.Millisecond,
		ReconnectCap:   4 * time.Millisecond,
		ReconnectMax:   3,
	}
}

func fastOutboundConfig() OutboundConfig {
	return OutboundConfig{
		MaxDepth:    16,
		SendTimeout: time.Second,
		RetryDelay:  time.Millisecond,
		DedupWindow: time.Minute,
	}
}
