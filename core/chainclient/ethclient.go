package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	gethereum "github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient is the default Client, backed by a real JSON-RPC endpoint.
type EthClient struct {
	rpc *ethclient.Client
}

// Dial connects to the given JSON-RPC endpoint.
func Dial(endpoint string) (*EthClient, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chainclient: endpoint required")
	}
	rpc, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", trimmed, err)
	}
	return &EthClient{rpc: rpc}, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.rpc.Close()
}

// LatestBlockNumber returns the current chain head.
func (c *EthClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("chainclient: fetch head: %w", err)
	}
	return header.Number.Uint64(), nil
}

// FilterLogs returns every log in [fromBlock, toBlock] across all
// contracts; DecodeLog discards anything that doesn't match one of the
// three signatures this core consumes.
func (c *EthClient) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]gethtypes.Log, error) {
	logs, err := c.rpc.FilterLogs(ctx, gethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	})
	if err != nil {
		return nil, fmt.Errorf("chainclient: filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

// BlockTimestamp fetches the block header for blockNumber and returns its
// timestamp in milliseconds since epoch.
func (c *EthClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("chainclient: fetch header %d: %w", blockNumber, err)
	}
	return int64(header.Time) * 1000, nil
}
