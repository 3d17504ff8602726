// Package merkle builds the deterministic, sibling-ordered Merkle tree that
// a committed Block's member list is checked into. Its layout and hashing
// primitives are chosen to bit-exactly match the on-chain verifier:
// keccak-256 (the pre-standardization EVM variant, not NIST SHA3-256) over a
// flat array, parent = keccak(min(child)||max(child)) so paths never need to
// encode left/right position.
package merkle

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"communitycore/core/types"
)

// maxLeafCount rejects inputs whose rounded-up leaf count would overflow a
// 32-bit slot index.
const maxLeafCount = 1 << 31

// Leaf is one member's contribution to the tree: its address and earnings at
// the moment the owning Block was snapshotted.
type Leaf struct {
	Address  types.Address
	Earnings *uint256.Int
}

// Tree is the built artifact: a contiguous hash array plus an index of
// address to leaf slot. It is immutable once returned by Build.
type Tree struct {
	blockNumber uint64
	branchCount int
	hashes      [][32]byte
	indexOf     map[types.Address]int
}

// Build constructs the tree over members in the order given. Callers MUST
// pass members pre-sorted ascending by canonical address (State does this
// before every Merkle build) so that the result is independent of any
// incidental map iteration order upstream.
//
// blockNumber is the single scalar salt mixed into every leaf hash. A zero
// blockNumber is treated as "unused" and renders as the empty string; any
// non-zero blockNumber renders as its decimal digits.
func Build(members []Leaf, blockNumber uint64) (*Tree, error) {
	if len(members) == 0 {
		return nil, ErrEmptyInput
	}

	leafCount := len(members)
	if leafCount%2 != 0 {
		leafCount++
	}
	if leafCount > maxLeafCount {
		return nil, fmt.Errorf("merkle: leaf count %d exceeds maximum %d", leafCount, maxLeafCount)
	}
	branchCount := nextPowerOfTwo(leafCount)

	total := branchCount + leafCount
	hashes := make([][32]byte, total)
	binary.BigEndian.PutUint64(hashes[0][24:], uint64(branchCount))

	indexOf := make(map[types.Address]int, len(members))
	for i, m := range members {
		slot := branchCount + i
		hashes[slot] = leafHash(blockNumber, m.Address, m.Earnings)
		indexOf[m.Address] = slot
	}

	for levelSize := branchCount; levelSize >= 2; levelSize /= 2 {
	level:
		for i := levelSize / 2; i < levelSize; i++ {
			leftIdx, rightIdx := 2*i, 2*i+1
			left := childAt(hashes, total, leftIdx)
			right := childAt(hashes, total, rightIdx)
			switch {
			case left == nil && right == nil:
				break level
			case right == nil:
				hashes[i] = *left
			default:
				hashes[i] = branchHash(*left, *right)
			}
		}
	}

	return &Tree{
		blockNumber: blockNumber,
		branchCount: branchCount,
		hashes:      hashes,
		indexOf:     indexOf,
	}, nil
}

// childAt returns a pointer to the hash at idx if it is in bounds and holds
// a real (non-zero) digest, or nil if the child is absent: either idx falls
// past the end of the truncated array, or the slot is an unwritten
// zero-padding leaf.
func childAt(hashes [][32]byte, total, idx int) *[32]byte {
	if idx >= total {
		return nil
	}
	if isZero(hashes[idx]) {
		return nil
	}
	return &hashes[idx]
}

func isZero(h [32]byte) bool {
	return h == [32]byte{}
}

// RootHash returns the tree's root, the 0x-prefixed lowercase hex encoding
// of hashes[1].
func (t *Tree) RootHash() string {
	return "0x" + hex.EncodeToString(t.hashes[1][:])
}

// RootBytes returns the raw 32-byte root, the form submitted on-chain.
func (t *Tree) RootBytes() [32]byte {
	return t.hashes[1]
}

// Path returns the ordered sibling digests from the leaf up to (but not
// including) the root, in the order an on-chain verifier folds them.
func (t *Tree) Path(addr types.Address) ([][32]byte, error) {
	i, ok := t.indexOf[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	var path [][32]byte
	for i > 1 {
		path = append(path, t.hashes[i^1])
		i >>= 1
	}
	return path, nil
}

// BranchCount exposes the tree's branch count, useful for boundary-behavior
// assertions in tests.
func (t *Tree) BranchCount() int {
	return t.branchCount
}

func leafHash(blockNumber uint64, addr types.Address, earnings *uint256.Int) [32]byte {
	var ascii string
	if blockNumber != 0 {
		ascii = strconv.FormatUint(blockNumber, 10)
	}
	addrHex := []byte(lowerHex(addr))
	earningsBytes := earnings.Bytes32()
	earningsHex := hex.EncodeToString(earningsBytes[:])

	buf := make([]byte, 0, len(ascii)+len(addrHex)+len(earningsHex))
	buf = append(buf, ascii...)
	buf = append(buf, addrHex...)
	buf = append(buf, earningsHex...)
	return [32]byte(crypto.Keccak256(buf))
}

func lowerHex(addr types.Address) string {
	h := addr.Hex()
	out := make([]byte, len(h))
	for i := 0; i < len(h); i++ {
		c := h[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func branchHash(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return [32]byte(crypto.Keccak256(buf))
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
