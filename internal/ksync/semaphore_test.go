package ksync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

func testLot() *parkinglot.Lot {
	return parkinglot.New(nil, klog.New("ksync-test", nil), nil)
}

func TestSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	sem := NewSemaphore(testLot())
	acquired := make(chan struct{})
	go func() {
		sem.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired before any release")
	case <-time.After(20 * time.Millisecond):
	}

	sem.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after release")
	}
}

func TestSemaphoreWaitUntilTimesOut(t *testing.T) {
	sem := NewSemaphore(testLot())
	ok := sem.WaitUntil(time.Now().Add(10 * time.Millisecond))
	require.False(t, ok)
}

func TestSemaphoreNeverHandsOutMoreUnitsThanReleased(t *testing.T) {
	sem := NewSemaphore(testLot())
	var acquiredCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sem.Acquire()
			mu.Lock()
			acquiredCount++
			mu.Unlock()
		}()
	}
	for i := 0; i < n; i++ {
		sem.Release()
	}
	wg.Wait()
	require.Equal(t, n, acquiredCount)
}
