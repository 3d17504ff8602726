package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"communitycore/core/types"
	"communitycore/storage"
)

// runStoreTests exercises a Store implementation-agnostically so MemStore
// and LevelDBStore are held to the identical contract.
func runStoreTests(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("LoadState before any save reports ok=false", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.LoadState()
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("SaveState then LoadState round-trips", func(t *testing.T) {
		s := newStore(t)
		rec := storage.StateRecord{
			TokenAddress:            mustAddr(t, "0x0000000000000000000000000000000000000011"),
			CommunityAddress:        mustAddr(t, "0x0000000000000000000000000000000000000012"),
			AdminAddress:            mustAddr(t, "0x0000000000000000000000000000000000000013"),
			AdminFeeFraction:        "500000000000000000",
			BlockFreezeSeconds:      1000,
			LastCommittedBlock:      7,
			LastProcessedChainBlock: 42,
			LastMessageTimestamp:    1234,
			CachePrunedUpTo:         1000,
		}
		require.NoError(t, s.SaveState(rec))

		got, ok, err := s.LoadState()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rec, got)
	})

	t.Run("LoadBlock for an unsaved block returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadBlock(1)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SaveBlock then LoadBlock round-trips", func(t *testing.T) {
		s := newStore(t)
		block := testBlock(t, 1)
		require.NoError(t, s.SaveBlock(block))

		got, err := s.LoadBlock(1)
		require.NoError(t, err)
		require.Equal(t, block.BlockNumber, got.BlockNumber)
		require.Equal(t, block.RootHash, got.RootHash)
		require.Equal(t, block.AdminFeeFraction.Dec(), got.AdminFeeFraction.Dec())
	})

	t.Run("re-saving an identical block is a no-op", func(t *testing.T) {
		s := newStore(t)
		block := testBlock(t, 1)
		require.NoError(t, s.SaveBlock(block))
		require.NoError(t, s.SaveBlock(testBlock(t, 1)))
	})

	t.Run("re-saving a block number with different contents fails", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlock(testBlock(t, 1)))

		other := testBlock(t, 1)
		other.RootHash[0] ^= 0xff
		require.ErrorIs(t, s.SaveBlock(other), storage.ErrBlockMismatch)
	})
}

func TestMemStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) storage.Store {
		return storage.NewMemStore()
	})
}

func TestLevelDBStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) storage.Store {
		dir := t.TempDir()
		s, err := storage.NewLevelDBStore(filepath.Join(dir, "db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func testBlock(t *testing.T, blockNumber uint64) *types.Block {
	t.Helper()
	return &types.Block{
		BlockNumber:      blockNumber,
		Timestamp:        1000,
		Members:          nil,
		TotalEarnings:    "0",
		AdminAddress:     mustAddr(t, "0x0000000000000000000000000000000000000013"),
		AdminFeeFraction: uint256.NewInt(0),
		RootHash:         [32]byte{1, 2, 3},
	}
}

func mustAddr(t *testing.T, hex string) types.Address {
	t.Helper()
	addr, err := types.ParseAddress(hex)
	require.NoError(t, err)
	return addr
}
