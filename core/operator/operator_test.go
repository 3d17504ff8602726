package operator_test

import (
	"context"
	"testing"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"communitycore/core/ledger"
	"communitycore/core/operator"
	"communitycore/core/types"
	"communitycore/core/watcher"
	"communitycore/storage"
)

type fakeChain struct{ head uint64 }

func (f *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChain) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *fakeChain) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	return 0, nil
}

type fakeChannel struct{}

func (f *fakeChannel) Subscribe(ctx context.Context, fromTimestamp int64) (<-chan types.ChannelMessage, error) {
	out := make(chan types.ChannelMessage)
	close(out)
	return out, nil
}

func TestCommit_BuildsAndPersistsASequenceOfBlocks(t *testing.T) {
	admin := mustAddr(t, "0x0000000000000000000000000000000000000001")
	member := mustAddr(t, "0x0000000000000000000000000000000000000002")

	store := storage.NewMemStore()
	state := ledger.New(ledger.Config{
		AdminAddress:     admin,
		AdminFeeFraction: uint256.NewInt(0),
		InitialMembers:   []*types.Member{types.NewMember(member)},
	}, store, nil)

	w, err := watcher.New(watcher.Config{
		State:   state,
		Store:   store,
		Chain:   &fakeChain{head: 0},
		Channel: &fakeChannel{},
	})
	require.NoError(t, err)

	op, err := operator.New(operator.Config{State: state, Watcher: w})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, op.Start(ctx))

	root1, block1, err := op.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), block1)

	root2, block2, err := op.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), block2)
	require.NotEqual(t, root1, root2, "block number is mixed into every leaf hash")

	require.NoError(t, op.Shutdown(ctx))
}

func mustAddr(t *testing.T, hex string) types.Address {
	t.Helper()
	addr, err := types.ParseAddress(hex)
	require.NoError(t, err)
	return addr
}
