package ksync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinRWLockExcludesWriters(t *testing.T) {
	var lock SpinRWLock
	counter := 0
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			lock.Lock()
			counter++
			lock.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, n, counter)
}

func TestSpinRWLockTryLockFailsWhileReaderHeld(t *testing.T) {
	var lock SpinRWLock
	require.True(t, lock.TryRLock())
	require.False(t, lock.TryLock())
	lock.RUnlock()
	require.True(t, lock.TryLock())
	lock.Unlock()
}

func TestSpinRWLockTryRLockFailsWhileWriterHeld(t *testing.T) {
	var lock SpinRWLock
	require.True(t, lock.TryLock())
	require.False(t, lock.TryRLock())
	lock.Unlock()
	require.True(t, lock.TryRLock())
	lock.RUnlock()
}
