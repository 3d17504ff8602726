package ledger_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"communitycore/core/ledger"
	"communitycore/core/types"
	"communitycore/storage"
)

func mustAddr(t *testing.T, hex string) types.Address {
	t.Helper()
	a, err := types.ParseAddress(hex)
	require.NoError(t, err)
	return a
}

func newState(t *testing.T, adminFeeFraction *uint256.Int, freezeSeconds int64) (*ledger.State, storage.Store) {
	t.Helper()
	store := storage.NewMemStore()
	admin := mustAddr(t, "0x0000000000000000000000000000000000000001")
	s := ledger.New(ledger.Config{
		BlockFreezeSeconds: freezeSeconds,
		AdminAddress:       admin,
		AdminFeeFraction:   adminFeeFraction,
	}, store, nil)
	return s, store
}

func TestOnRevenue_SingleMemberReceivesEverythingLessFee(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	s.OnJoin([]types.Address{alice}, 100)

	require.NoError(t, s.OnRevenue(uint256.NewInt(1000), 200))

	block, err := s.OnBlockCreated(1, 300, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, "1000", block.TotalEarnings)
	require.Len(t, block.Members, 1)
	require.Equal(t, "1000", block.Members[0].Earnings)
}

func TestOnRevenue_AdminFeeSplitsBeforeDistribution(t *testing.T) {
	// 20% admin fee, scaled by 1e18.
	fee, err := uint256.FromDecimal("200000000000000000")
	require.NoError(t, err)
	s, _ := newState(t, fee, 0)

	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	bob := mustAddr(t, "0x0000000000000000000000000000000000000003")
	s.OnJoin([]types.Address{alice, bob}, 100)

	require.NoError(t, s.OnRevenue(uint256.NewInt(1000), 200))

	block, err := s.OnBlockCreated(1, 300, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, "1000", block.TotalEarnings)

	earningsByAddr := map[types.Address]string{}
	for _, rec := range block.Members {
		earningsByAddr[rec.Address] = rec.Earnings
	}
	// remainder after fee is 800, split 400/400 across two active members.
	require.Equal(t, "400", earningsByAddr[alice])
	require.Equal(t, "400", earningsByAddr[bob])
}

func TestOnRevenue_NoActiveMembersGivesAdminEverything(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	require.NoError(t, s.OnRevenue(uint256.NewInt(500), 100))

	block, err := s.OnBlockCreated(1, 200, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, "500", block.TotalEarnings)
	require.Empty(t, block.Members)
}

func TestNew_SeedsAdminEarningsFromConfig(t *testing.T) {
	store := storage.NewMemStore()
	admin := mustAddr(t, "0x0000000000000000000000000000000000000001")

	// A restarted process recovers a non-zero admin balance from the last
	// committed block, the way cmd/communityd's checkpoint seeding does.
	s := ledger.New(ledger.Config{
		AdminAddress:  admin,
		AdminEarnings: uint256.NewInt(500),
	}, store, nil)

	block, err := s.OnBlockCreated(1, 100, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, "500", block.TotalEarnings)
	require.Empty(t, block.Members)
}

func TestOnPartThenOnJoin_PreservesEarnings(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")

	s.OnJoin([]types.Address{alice}, 100)
	require.NoError(t, s.OnRevenue(uint256.NewInt(600), 150))
	s.OnPart([]types.Address{alice}, 200)
	s.OnJoin([]types.Address{alice}, 250)

	block, err := s.OnBlockCreated(1, 300, [32]byte{})
	require.NoError(t, err)
	require.Len(t, block.Members, 1)
	require.Equal(t, "600", block.Members[0].Earnings)
	require.True(t, block.Members[0].Active)
}

func TestOnBlockCreated_IsDeterministicAcrossMemberOrder(t *testing.T) {
	addrs := []types.Address{
		mustAddr(t, "0x0000000000000000000000000000000000000005"),
		mustAddr(t, "0x0000000000000000000000000000000000000002"),
		mustAddr(t, "0x0000000000000000000000000000000000000009"),
	}

	build := func(joinOrder []types.Address) *types.Block {
		s, _ := newState(t, uint256.NewInt(0), 0)
		s.OnJoin(joinOrder, 100)
		require.NoError(t, s.OnRevenue(uint256.NewInt(900), 150))
		block, err := s.OnBlockCreated(1, 200, [32]byte{})
		require.NoError(t, err)
		return block
	}

	forward := build([]types.Address{addrs[0], addrs[1], addrs[2]})
	reversed := build([]types.Address{addrs[2], addrs[1], addrs[0]})

	require.Equal(t, forward.Members, reversed.Members)
}

func TestGetLatestWithdrawableBlock_RespectsFreezeWindow(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 1000)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	s.OnJoin([]types.Address{alice}, 0)

	_, err := s.OnBlockCreated(1, 1_000_000, [32]byte{})
	require.NoError(t, err)
	_, err = s.OnBlockCreated(2, 2_000_000, [32]byte{})
	require.NoError(t, err)
	_, err = s.OnBlockCreated(3, 2_500_000, [32]byte{})
	require.NoError(t, err)

	withdrawable, err := s.GetLatestWithdrawableBlock(3_200_000)
	require.NoError(t, err)
	require.NotNil(t, withdrawable)
	require.EqualValues(t, 2, withdrawable.BlockNumber)
}

func TestGetProofAt_UnknownBlockReturnsErrNoBlock(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")

	_, err := s.GetProofAt(alice, 99)
	require.ErrorIs(t, err, ledger.ErrNoBlock)
}

func TestGetProofAt_UnknownAddressReturnsErrNotAMember(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	stranger := mustAddr(t, "0x0000000000000000000000000000000000000009")

	s.OnJoin([]types.Address{alice}, 0)
	require.NoError(t, s.OnRevenue(uint256.NewInt(10), 10))
	_, err := s.OnBlockCreated(1, 20, [32]byte{})
	require.NoError(t, err)

	_, err = s.GetProofAt(stranger, 1)
	require.ErrorIs(t, err, ledger.ErrNotAMember)
}

func TestGetProofAt_ZeroEarningsMemberHasEmptyPath(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	s.OnJoin([]types.Address{alice}, 0)

	block, err := s.OnBlockCreated(1, 10, [32]byte{})
	require.NoError(t, err)
	require.Equal(t, "0", block.Members[0].Earnings)

	path, err := s.GetProofAt(alice, 1)
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestGetMemberCount_TracksActiveAndTotal(t *testing.T) {
	s, _ := newState(t, uint256.NewInt(0), 0)
	alice := mustAddr(t, "0x0000000000000000000000000000000000000002")
	bob := mustAddr(t, "0x0000000000000000000000000000000000000003")

	s.OnJoin([]types.Address{alice, bob}, 0)
	s.OnPart([]types.Address{bob}, 10)

	count := s.GetMemberCount()
	require.Equal(t, 2, count.Total)
	require.Equal(t, 1, count.Active)
}
