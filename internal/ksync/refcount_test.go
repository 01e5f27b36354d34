package ksync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefcountStartsAtOne(t *testing.T) {
	r := NewRefcount()
	require.True(t, r.IsOne())
}

func TestRefcountIncDecTracksSharers(t *testing.T) {
	r := NewRefcount()
	r.Inc()
	require.False(t, r.IsOne())

	require.True(t, r.Dec()) // two -> one, old value (2) was nonzero
	require.True(t, r.IsOne())

	require.True(t, r.Dec()) // one -> zero, old value (1) was nonzero
	require.False(t, r.IsOne())
}
