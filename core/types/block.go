package types

import "github.com/holiman/uint256"

// Block is an immutable snapshot of the ledger taken at commit time. Once
// constructed by ledger.State.OnBlockCreated and persisted via the Store, a
// Block is never mutated; its Members slice is sorted ascending by canonical
// address, matching the ordering merkle.Build consumes.
type Block struct {
	BlockNumber      uint64
	Timestamp        int64 // ms since epoch
	Members          []MemberRecord
	TotalEarnings    string // decimal string, 256-bit non-negative integer
	AdminAddress     Address
	AdminFeeFraction *uint256.Int // scaled by 1e18, matches the on-chain AdminFeeChanged event
	RootHash         [32]byte
	IPFSHash         string
}

// BlockRecord is the serialization-friendly projection persisted by the
// Store; AdminFeeFraction and RootHash are rendered as decimal/hex strings
// respectively so the store's contract never has to understand uint256 or
// fixed-size byte arrays.
type BlockRecord struct {
	BlockNumber      uint64         `json:"blockNumber"`
	Timestamp        int64          `json:"timestamp"`
	Members          []MemberRecord `json:"members"`
	TotalEarnings    string         `json:"totalEarnings"`
	AdminAddress     Address        `json:"adminAddress"`
	AdminFeeFraction string         `json:"adminFeeFraction"`
	RootHash         string         `json:"rootHash"`
	IPFSHash         string         `json:"ipfsHash,omitempty"`
}

// ToRecord projects a Block into its persistence-friendly record form.
func (b *Block) ToRecord() BlockRecord {
	return BlockRecord{
		BlockNumber:      b.BlockNumber,
		Timestamp:        b.Timestamp,
		Members:          b.Members,
		TotalEarnings:    b.TotalEarnings,
		AdminAddress:     b.AdminAddress,
		AdminFeeFraction: b.AdminFeeFraction.Dec(),
		RootHash:         "0x" + hexEncode(b.RootHash[:]),
		IPFSHash:         b.IPFSHash,
	}
}

// BlockFromRecord rebuilds a Block from its persisted record form.
func BlockFromRecord(r BlockRecord) (*Block, error) {
	fee, err := parseDecimalUint256(r.AdminFeeFraction)
	if err != nil {
		return nil, err
	}
	root, err := hexDecode32(r.RootHash)
	if err != nil {
		return nil, err
	}
	return &Block{
		BlockNumber:      r.BlockNumber,
		Timestamp:        r.Timestamp,
		Members:          r.Members,
		TotalEarnings:    r.TotalEarnings,
		AdminAddress:     r.AdminAddress,
		AdminFeeFraction: fee,
		RootHash:         root,
		IPFSHash:         r.IPFSHash,
	}, nil
}
