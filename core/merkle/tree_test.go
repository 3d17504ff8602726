package merkle

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"communitycore/core/types"
)

func addr(t *testing.T, s string) types.Address {
	t.Helper()
	a, err := types.ParseAddress(s)
	require.NoError(t, err)
	return a
}

func leaf(t *testing.T, hexAddr string, earnings uint64) Leaf {
	return Leaf{Address: addr(t, hexAddr), Earnings: uint256.NewInt(earnings)}
}

func TestBuild_EmptyInput(t *testing.T) {
	_, err := Build(nil, 0)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestBuild_SingleMember_PathLengthOne(t *testing.T) {
	members := []Leaf{leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 100)}
	tree, err := Build(members, 0)
	require.NoError(t, err)
	require.Equal(t, 2, tree.BranchCount())

	path, err := tree.Path(members[0].Address)
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.Equal(t, [32]byte{}, path[0], "single member's sibling must be the zero digest")
}

func TestBuild_TwoMembers_NoPadding(t *testing.T) {
	members := []Leaf{
		leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 100),
		leaf(t, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", 200),
	}
	tree, err := Build(members, 0)
	require.NoError(t, err)
	require.Equal(t, 2, tree.BranchCount())

	path, err := tree.Path(members[0].Address)
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.NotEqual(t, [32]byte{}, path[0])
}

func TestBuild_ThreeMembers_TrailingZeroLeaf(t *testing.T) {
	members := []Leaf{
		leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 100),
		leaf(t, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", 200),
		leaf(t, "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", 300),
	}
	tree, err := Build(members, 0)
	require.NoError(t, err)
	require.Equal(t, 4, tree.BranchCount())

	// Middle member's path: one real sibling then one pair-hash ancestor.
	path, err := tree.Path(members[1].Address)
	require.NoError(t, err)
	require.Len(t, path, 2)
}

func TestBuild_PowersOfTwo(t *testing.T) {
	for k := 1; k <= 8; k++ {
		n := 1 << k
		members := make([]Leaf, 0, n)
		for i := 0; i < n; i++ {
			b := make([]byte, 20)
			b[19] = byte(i)
			b[18] = byte(k)
			a, err := types.AddressFromBytes(b)
			require.NoError(t, err)
			members = append(members, Leaf{Address: a, Earnings: uint256.NewInt(uint64(i + 1))})
		}
		tree, err := Build(members, 0)
		require.NoError(t, err)
		path, err := tree.Path(members[0].Address)
		require.NoError(t, err)
		require.Len(t, path, k)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a := []Leaf{
		leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 1),
		leaf(t, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", 2),
		leaf(t, "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", 3),
		leaf(t, "0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD", 4),
		leaf(t, "0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE", 5),
	}
	t1, err := Build(a, 42)
	require.NoError(t, err)

	b := make([]Leaf, len(a))
	copy(b, a) // same sorted order, callers are required to pre-sort identically
	t2, err := Build(b, 42)
	require.NoError(t, err)

	require.Equal(t, t1.RootHash(), t2.RootHash())
}

func TestPath_NotFound(t *testing.T) {
	members := []Leaf{leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 1)}
	tree, err := Build(members, 0)
	require.NoError(t, err)

	other := addr(t, "0xFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")
	_, err = tree.Path(other)
	require.ErrorIs(t, err, ErrNotFound)
}

// verify re-implements the on-chain verifier algorithm from to
// check that a leaf + path reconstructs the stored root. A zero sibling
// marks an odd tail, whose parent Build copies from the left child without
// hashing, so the accumulator passes through it unchanged.
func verify(leaf [32]byte, path [][32]byte, root [32]byte) bool {
	acc := leaf
	for _, sibling := range path {
		if sibling == ([32]byte{}) {
			continue
		}
		acc = branchHash(acc, sibling)
	}
	return acc == root
}

func TestPath_VerifiesAgainstRoot(t *testing.T) {
	members := []Leaf{
		leaf(t, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 10),
		leaf(t, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", 20),
		leaf(t, "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", 30),
	}
	tree, err := Build(members, 7)
	require.NoError(t, err)
	root := tree.RootBytes()

	for _, m := range members {
		path, err := tree.Path(m.Address)
		require.NoError(t, err)
		lh := leafHash(7, m.Address, m.Earnings)
		require.True(t, verify(lh, path, root), "path for %s failed to verify", m.Address)
	}
}
