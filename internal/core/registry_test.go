package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, clients map[string]*fakeClient) (*Registry, *memCredStore) {
	t.Helper()
	creds := newMemCredStore()
	factory := func(ctx context.Context, instanceID string, cred *Credential) (ProtocolClient, error) {
		if c, ok := clients[instanceID]; ok {
			return c, nil
		}
		return newFakeClient(true), nil
	}
	cfg := Config{
		Supervisor: fastSupervisorConfig(),
		Outbound:   fastOutboundConfig(),
		StopGrace:  time.Second,
	}
	reg := NewRegistry(cfg, creds, factory, nil, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg, creds
}

func waitForRegistryState(t *testing.T, reg *Registry, instanceID string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := reg.Status(instanceID)
		return err == nil && snap.State == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryStartReturnsInitializing(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	snap, err := reg.Start("t1", StartOptions{})
	require.NoError(t, err)
	assert.Contains(t, []State{StateInitializing, StateConnected}, snap.State)
}

func TestRegistryRejectsSecondStart(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	_, err := reg.Start("t1", StartOptions{})
	require.NoError(t, err)

	_, err = reg.Start("t1", StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestRegistryRestartAfterStop(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	_, err := reg.Start("t1", StartOptions{})
	require.NoError(t, err)
	waitForRegistryState(t, reg, "t1", StateConnected)

	ctx := context.Background()
	require.NoError(t, reg.Stop(ctx, "t1", false))
	waitForRegistryState(t, reg, "t1", StateTerminated)

	_, err = reg.Start("t1", StartOptions{})
	assert.NoError(t, err, "a terminal session can be started again")
}

func TestRegistryStopIsIdempotent(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	_, err := reg.Start("t1", StartOptions{})
	require.NoError(t, err)
	waitForRegistryState(t, reg, "t1", StateConnected)

	ctx := context.Background()
	require.NoError(t, reg.Stop(ctx, "t1", false))
	require.NoError(t, reg.Stop(ctx, "t1", false))

	snap, err := reg.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, snap.State)
}

func TestRegistryStatusNotFound(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	_, err := reg.Status("never-started")
	assert.ErrorIs(t, err, ErrNotFound)

	err = reg.Stop(context.Background(), "never-started", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Enqueue("never-started", &OutboundRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryList(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	for _, id := range []string{"t2", "t1", "t3"} {
		_, err := reg.Start(id, StartOptions{})
		require.NoError(t, err)
	}

	snaps := reg.List()
	require.Len(t, snaps, 3)
	assert.Equal(t, "t1", snaps[0].InstanceID)
	assert.Equal(t, "t2", snaps[1].InstanceID)
	assert.Equal(t, "t3", snaps[2].InstanceID)

	// Listing again reflects current state, not a cached view.
	waitForRegistryState(t, reg, "t1", StateConnected)
	for _, snap := range reg.List() {
		if snap.InstanceID == "t1" {
			assert.Equal(t, StateConnected, snap.State)
		}
	}
}

func TestRegistryEnqueueRoutesToSession(t *testing.T) {
	client := newFakeClient(true)
	reg, _ := testRegistry(t, map[string]*fakeClient{"t1": client})

	_, err := reg.Start("t1", StartOptions{})
	require.NoError(t, err)
	waitForRegistryState(t, reg, "t1", StateConnected)

	_, err = reg.Enqueue("t1", &OutboundRequest{Target: "628111", Content: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(client.sentMessages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistryCheckTarget(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	_, err := reg.CheckTarget(context.Background(), "missing", "628111")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Start("t1", StartOptions{})
	require.NoError(t, err)
	waitForRegistryState(t, reg, "t1", StateConnected)

	// The fake client has no verification capability, so every target
	// is accepted.
	ok, err := reg.CheckTarget(context.Background(), "t1", "628111")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistryShutdownDrainsAll(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := reg.Start(id, StartOptions{})
		require.NoError(t, err)
		waitForRegistryState(t, reg, id, StateConnected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	for _, snap := range reg.List() {
		assert.Equal(t, StateTerminated, snap.State, "instance %s", snap.InstanceID)
	}
}
