package ksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionWaitReturnsFalseOnTimeout(t *testing.T) {
	c := NewCondition(testLot())
	var lock TicketLock
	lock.Lock()
	woke := c.Wait(lock.Unlock, time.Now().Add(10*time.Millisecond))
	require.False(t, woke)
}

func TestConditionNotifyOneWakesWaiter(t *testing.T) {
	c := NewCondition(testLot())
	var lock TicketLock

	done := make(chan bool, 1)
	go func() {
		lock.Lock()
		done <- c.Wait(lock.Unlock, time.Time{})
	}()
	time.Sleep(20 * time.Millisecond)

	require.True(t, c.NotifyOne())
	select {
	case woke := <-done:
		require.True(t, woke)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestConditionNotifyOneNoOpWhenNoWaiters(t *testing.T) {
	c := NewCondition(testLot())
	require.False(t, c.NotifyOne())
}
