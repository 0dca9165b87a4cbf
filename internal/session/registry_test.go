package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/internal/result"
	"github.com/tidewire/tidewire/internal/wire"
)

func TestRegistryIsolatesCorrelations(t *testing.T) {
	r := NewRegistry()
	acc1 := NewAccumulator("c1", result.KindReference)
	acc2 := NewAccumulator("c2", result.KindReference)
	r.Register("c1", acc1)
	r.Register("c2", acc2)

	got, ok := r.Lookup("c1")
	require.True(t, ok)
	require.Same(t, acc1, got)
	got, ok = r.Lookup("c2")
	require.True(t, ok)
	require.Same(t, acc2, got)

	_, ok = r.Lookup("c3")
	require.False(t, ok)
}

func TestRegistryRemoveIsAtomic(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", NewAccumulator("c1", result.KindReference))

	const goroutines = 16
	removed := make(chan *Accumulator, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if acc, ok := r.Remove("c1"); ok {
				removed <- acc
			}
		}()
	}
	wg.Wait()
	close(removed)

	var winners int
	for range removed {
		winners++
	}
	require.Equal(t, 1, winners)
	require.Equal(t, 0, r.Len())
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", NewAccumulator("c1", result.KindReference))
	r.Register("c2", NewAccumulator("c2", result.KindHistorical))

	accs := r.Drain()
	require.Len(t, accs, 2)
	require.Equal(t, 0, r.Len())

	corrs := map[wire.CorrelationID]bool{}
	for _, acc := range accs {
		corrs[acc.Correlation()] = true
	}
	require.True(t, corrs["c1"])
	require.True(t, corrs["c2"])
}
