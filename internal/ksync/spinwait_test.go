package ksync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinWaitExhaustsAfterTenSpins(t *testing.T) {
	var s SpinWait
	spun := 0
	for s.Spin() {
		spun++
		require.Less(t, spun, 100) // guard against an infinite loop bug
	}
	require.Equal(t, 10, spun)
}

func TestSpinWaitResetAllowsReuse(t *testing.T) {
	var s SpinWait
	for s.Spin() {
	}
	s.Reset()
	require.True(t, s.Spin())
}
