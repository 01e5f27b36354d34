package parkinglot

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
)

func testLog() klog.Logger { return klog.New("parkinglot-test", nil) }

func TestParkThenUnparkOneWakesWithToken(t *testing.T) {
	l := New(nil, testLog(), nil)
	const key = uintptr(0x1000)

	done := make(chan Result, 1)
	started := make(chan struct{})
	go func() {
		res := l.Park(key, func() bool { return true }, func() { close(started) }, time.Time{})
		done <- res
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let Park reach its select

	woke := l.UnparkOne(key, func(UnparkInfo) any { return "hello" })
	require.True(t, woke)

	res := <-done
	require.True(t, res.Unparked)
	require.False(t, res.TimedOut)
	require.Equal(t, "hello", res.Token)
}

func TestParkValidateFalseReturnsImmediatelyUnparked(t *testing.T) {
	l := New(nil, testLog(), nil)
	res := l.Park(0x2000, func() bool { return false }, nil, time.Time{})
	require.False(t, res.Unparked)
}

func TestParkTimesOutWithoutUnparker(t *testing.T) {
	l := New(nil, testLog(), nil)
	res := l.Park(0x3000, func() bool { return true }, nil, time.Now().Add(20*time.Millisecond))
	require.True(t, res.Unparked)
	require.True(t, res.TimedOut)
}

func TestUnparkAllWakesEveryWaiterOnKey(t *testing.T) {
	l := New(nil, testLog(), nil)
	const key = uintptr(0x4000)
	const n = 5

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res := l.Park(key, func() bool { return true }, nil, time.Time{})
			require.True(t, res.Unparked)
			require.False(t, res.TimedOut)
		}()
	}
	time.Sleep(20 * time.Millisecond)

	woke := l.UnparkAll(key)
	require.Equal(t, n, woke)
	wg.Wait()
}

func TestValidateRaceNeverLosesAWakeup(t *testing.T) {
	// Thread A's validate observes B's write iff B set the flag before A
	// entered the bucket lock; otherwise A must queue and B's unpark_one
	// must find it. Either outcome is correct; what must never happen is A
	// parking forever uninterrupted.
	l := New(nil, testLog(), nil)
	const key = uintptr(0x5000)
	var flag atomic.Bool

	done := make(chan Result, 1)
	go func() {
		res := l.Park(key, func() bool { return !flag.Load() }, nil, time.Time{})
		done <- res
	}()
	time.Sleep(5 * time.Millisecond)

	flag.Store(true)
	l.UnparkOne(key, nil)

	// Either validate observed the race and returned unparked-immediately,
	// or the waiter queued before UnparkOne ran and got woken by it - both
	// are valid outcomes. What must never happen is the call hanging.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("park call never returned: lost wakeup")
	}
}

func TestUnparkRequeueMovesWaiterToNewKey(t *testing.T) {
	l := New(nil, testLog(), nil)
	const from, to = uintptr(0x6000), uintptr(0x7000)

	done := make(chan Result, 1)
	started := make(chan struct{})
	go func() {
		res := l.Park(from, func() bool { return true }, func() { close(started) }, time.Time{})
		done <- res
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	l.UnparkRequeue(from, to, func(hasWaiter bool) RequeueDecision {
		require.True(t, hasWaiter)
		return RequeueOne
	}, nil)

	// The waiter moved to `to`, asleep; it should not have woken yet.
	select {
	case <-done:
		t.Fatal("waiter woke during a requeue-one (asleep) disposition")
	case <-time.After(20 * time.Millisecond):
	}

	woke := l.UnparkOne(to, nil)
	require.True(t, woke)
	res := <-done
	require.True(t, res.Unparked)
}

func TestTableGrowsUnderLoadAndStillWakesEveryone(t *testing.T) {
	l := New(nil, testLog(), nil)
	const n = 200 // far past defaultBuckets * loadFactor

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		key := uintptr(0x8000 + i)
		go func(key uintptr) {
			defer wg.Done()
			res := l.Park(key, func() bool { return true }, nil, time.Time{})
			require.True(t, res.Unparked)
		}(key)
	}
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < n; i++ {
		l.UnparkOne(uintptr(0x8000+i), nil)
	}
	wg.Wait()

	require.Greater(t, len(l.table.Load().buckets), defaultBuckets)
}

func TestMetricsCountUnparks(t *testing.T) {
	sink := metrics.NewCountingSink()
	l := New(nil, testLog(), sink)
	const key = uintptr(0x9000)

	done := make(chan struct{})
	go func() {
		l.Park(key, func() bool { return true }, nil, time.Time{})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	l.UnparkOne(key, nil)
	<-done

	require.EqualValues(t, 1, sink.Snapshot().Unparks)
}
