package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	km := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("session-1")
			defer unlock()
			counter++
		}()
	}

	wg.Wait()
	require.Equal(t, 64, counter)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("a")
	require.Len(t, km.locks, 1)
	unlock()
	require.Empty(t, km.locks)

	// Distinct keys do not block each other.
	unlockA := km.Lock("a")
	unlockB := km.Lock("b")
	unlockB()
	unlockA()
	require.Empty(t, km.locks)
}
