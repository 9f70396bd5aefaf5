package domain_test

import (
	"math/big"
	"testing"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestGuardCommitmentBinding(t *testing.T) {
	guard := domain.NewGuardCommitment("c0ffee_0", []domain.Assignment{
		{InputIndex: 0, OutputIndex: 1, LocalId: big.NewInt(7), DestinationScript: []byte{0x51}},
	})
	require.False(t, guard.IsBound())

	bound := guard.WithBinding(domain.Outpoint{Txid: "aa", VOut: 1})
	require.True(t, bound.IsBound())
	require.False(t, guard.IsBound())
	require.Equal(t, "aa:1", bound.Binding.String())

	// the bound copy does not share assignment memory with the original
	bound.Assignments[0].LocalId.SetInt64(8)
	require.Equal(t, int64(7), guard.Assignments[0].LocalId.Int64())

	rebound := guard.WithBinding(domain.Outpoint{Txid: "bb", VOut: 1})
	require.Equal(t, "aa:1", bound.Binding.String())
	require.Equal(t, "bb:1", rebound.Binding.String())
}

func TestGuardCommitmentEncoding(t *testing.T) {
	assignments := []domain.Assignment{
		{InputIndex: 0, OutputIndex: 1, LocalId: big.NewInt(1), DestinationScript: []byte{0x51, 0x20}},
		{InputIndex: 1, LocalId: big.NewInt(2)},
	}
	guard := domain.NewGuardCommitment("c0ffee_0", assignments)

	t.Run("independent of binding", func(t *testing.T) {
		bound := guard.WithBinding(domain.Outpoint{Txid: "aa", VOut: 1})
		require.Equal(t, guard.Encode(), bound.Encode())
		require.Equal(t, guard.Digest(), bound.Digest())
		require.Len(t, guard.Digest(), 32)
	})

	t.Run("sensitive to order", func(t *testing.T) {
		swapped := domain.NewGuardCommitment("c0ffee_0", []domain.Assignment{
			assignments[1], assignments[0],
		})
		require.NotEqual(t, guard.Digest(), swapped.Digest())
	})

	t.Run("lookup by input", func(t *testing.T) {
		a, ok := guard.AssignmentFor(1)
		require.True(t, ok)
		require.True(t, a.IsBurn())

		_, ok = guard.AssignmentFor(5)
		require.False(t, ok)
	})
}
