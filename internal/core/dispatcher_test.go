package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSequenceContiguity(t *testing.T) {
	a := newCollector("a")
	b := newCollector("b")
	d := NewDispatcher("t1", []Consumer{a, b}, 256, testLogger())

	const n = 100
	for i := 0; i < n; i++ {
		d.Dispatch(KindMessage, map[string]any{"i": i})
	}
	d.Close()

	for _, c := range []*collector{a, b} {
		seqs := c.seqs()
		require.Len(t, seqs, n, "consumer %s", c.name)
		for i, seq := range seqs {
			assert.Equal(t, uint64(i+1), seq, "consumer %s gap at index %d", c.name, i)
		}
	}
}

func TestDispatcherDoesNotBlockOnSlowConsumer(t *testing.T) {
	release := make(chan struct{})
	var got []uint64
	var mu sync.Mutex
	stuck := ConsumerFunc("stuck", func(ev *Event) {
		<-release
		mu.Lock()
		got = append(got, ev.Seq)
		mu.Unlock()
	})
	healthy := newCollector("healthy")

	d := NewDispatcher("t1", []Consumer{stuck, healthy}, 2, testLogger())

	// The stuck consumer's drain goroutine blocks on the first event, so its
	// queue fills while the healthy consumer keeps up.
	for i := 0; i < 10; i++ {
		d.Dispatch(KindMessage, nil)
	}
	close(release)
	d.Close()

	require.Len(t, healthy.events(), 10)

	dropped := d.Dropped()
	assert.Zero(t, dropped["healthy"])
	assert.Greater(t, dropped["stuck"], uint64(0), "oldest events for the stuck consumer should have been dropped")

	// Whatever the stuck consumer did observe is still in order.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher("t1", []Consumer{newCollector("a")}, 4, testLogger())
	d.Dispatch(KindMessage, nil)
	d.Close()
	d.Close()

	// Dispatch after close is a no-op, not a panic.
	ev := d.Dispatch(KindMessage, nil)
	assert.Equal(t, uint64(2), ev.Seq)
}
