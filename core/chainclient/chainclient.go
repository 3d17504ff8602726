// Package chainclient defines the narrow chain-reading interface the
// watcher depends on and decodes the three event kinds the core consumes
// from raw go-ethereum log entries.
package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"communitycore/core/types"
)

var (
	adminFeeChangedSignature = gethcrypto.Keccak256Hash([]byte("AdminFeeChanged(uint256)"))
	blockCreatedSignature    = gethcrypto.Keccak256Hash([]byte("BlockCreated(uint256,bytes32,string)"))
	transferSignature        = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// Client is the subset of chain access the watcher needs: current head,
// filtered historical logs, and each event's block timestamp. Mirrors the
// narrow EVMClient interface the rest of this corpus wraps around
// *ethclient.Client for exactly the RPC surface one component needs.
type Client interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]gethtypes.Log, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)
}

// DecodeLog converts a raw log into a ChainEvent if it matches one of the
// three signatures this core consumes, and reports false otherwise (logs
// from unrelated contracts/events are silently skipped by the watcher).
// communityContract/tokenAddress scope the Transfer decode to "to ==
// communityContract" transfers of the configured token.
func DecodeLog(log gethtypes.Log, tokenAddress, communityContract types.Address, timestamp int64) (types.ChainEvent, bool, error) {
	if len(log.Topics) == 0 {
		return types.ChainEvent{}, false, nil
	}

	base := types.ChainEvent{
		BlockNumber: log.BlockNumber,
		TxIndex:     uint(log.TxIndex),
		LogIndex:    uint(log.Index),
		Timestamp:   timestamp,
	}

	switch log.Topics[0] {
	case adminFeeChangedSignature:
		fraction, overflow := uint256.FromBig(new(big.Int).SetBytes(log.Data))
		if overflow {
			return types.ChainEvent{}, false, fmt.Errorf("chainclient: decode AdminFeeChanged: value overflows uint256")
		}
		base.Kind = types.ChainEventAdminFeeChanged
		base.AdminFeeFraction = fraction
		return base, true, nil

	case blockCreatedSignature:
		ev, err := decodeBlockCreated(log.Data)
		if err != nil {
			return types.ChainEvent{}, false, err
		}
		base.Kind = types.ChainEventBlockCreated
		base.CommittedBlockNumber = ev.CommittedBlockNumber
		base.RootHash = ev.RootHash
		base.IPFSHash = ev.IPFSHash
		return base, true, nil

	case transferSignature:
		if log.Address != common.BytesToAddress(tokenAddress.Bytes()) {
			return types.ChainEvent{}, false, nil
		}
		if len(log.Topics) < 3 {
			return types.ChainEvent{}, false, fmt.Errorf("chainclient: malformed Transfer log, want 3 topics, got %d", len(log.Topics))
		}
		to, err := types.AddressFromBytes(log.Topics[2].Bytes()[12:])
		if err != nil {
			return types.ChainEvent{}, false, err
		}
		if to != communityContract {
			return types.ChainEvent{}, false, nil
		}
		from, err := types.AddressFromBytes(log.Topics[1].Bytes()[12:])
		if err != nil {
			return types.ChainEvent{}, false, err
		}
		value, overflow := uint256.FromBig(new(big.Int).SetBytes(log.Data))
		if overflow {
			return types.ChainEvent{}, false, fmt.Errorf("chainclient: decode Transfer value: value overflows uint256")
		}
		base.Kind = types.ChainEventTokenTransfer
		base.From = from
		base.To = to
		base.Value = value
		return base, true, nil
	}

	return types.ChainEvent{}, false, nil
}

// decodeBlockCreated unpacks the ABI-encoded (uint256,bytes32,string) tuple
// without pulling in a generated contract binding: each static head word is
// 32 bytes, followed by the dynamic string's length-prefixed tail at the
// offset its head word names.
func decodeBlockCreated(data []byte) (types.ChainEvent, error) {
	const wordSize = 32
	if len(data) < 3*wordSize {
		return types.ChainEvent{}, fmt.Errorf("chainclient: malformed BlockCreated data, want at least %d bytes, got %d", 3*wordSize, len(data))
	}

	blockNumber := new(big.Int).SetBytes(data[0:wordSize]).Uint64()
	var rootHash [32]byte
	copy(rootHash[:], data[wordSize:2*wordSize])

	stringOffset := new(big.Int).SetBytes(data[2*wordSize : 3*wordSize]).Uint64()
	if uint64(len(data)) < stringOffset+wordSize {
		return types.ChainEvent{}, fmt.Errorf("chainclient: malformed BlockCreated data, string offset out of range")
	}
	strLen := new(big.Int).SetBytes(data[stringOffset : stringOffset+wordSize]).Uint64()
	strStart := stringOffset + wordSize
	if uint64(len(data)) < strStart+strLen {
		return types.ChainEvent{}, fmt.Errorf("chainclient: malformed BlockCreated data, string body out of range")
	}

	return types.ChainEvent{
		CommittedBlockNumber: blockNumber,
		RootHash:             rootHash,
		IPFSHash:             string(data[strStart : strStart+strLen]),
	}, nil
}
