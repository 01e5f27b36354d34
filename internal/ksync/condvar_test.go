package ksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCondvarNotifyOneWakesOneWaiter(t *testing.T) {
	lot := testLot()
	m := NewMutex(lot, nil)
	cv := NewCondvar(lot)

	ready := false
	woke := make(chan struct{})
	go func() {
		m.Lock()
		for !ready {
			cv.Wait(m)
		}
		m.Unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Lock()
	ready = true
	m.Unlock()
	cv.NotifyOne()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestCondvarNotifyAllWakesEveryWaiter(t *testing.T) {
	lot := testLot()
	m := NewMutex(lot, nil)
	cv := NewCondvar(lot)

	const n = 5
	ready := false
	woke := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			m.Lock()
			for !ready {
				cv.Wait(m)
			}
			m.Unlock()
			woke <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	m.Lock()
	ready = true
	m.Unlock()
	cv.NotifyAll()

	for i := 0; i < n; i++ {
		select {
		case <-woke:
		case <-time.After(time.Second):
			t.Fatalf("only %d/%d waiters woke", i, n)
		}
	}
}

func TestCondvarPanicsOnMixedMutexUse(t *testing.T) {
	lot := testLot()
	a := NewMutex(lot, nil)
	b := NewMutex(lot, nil)
	cv := NewCondvar(lot)

	started := make(chan struct{})
	go func() {
		a.Lock()
		close(started)
		cv.Wait(a)
		a.Unlock()
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	b.Lock()
	require.Panics(t, func() { cv.Wait(b) })
}
