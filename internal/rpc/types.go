package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
)

// EthClient is the narrow JSON-RPC surface the monitor consumes: head
// discovery, block downloads and validator contract event queries.
type EthClient interface {
	// BlockNumber returns the height of the remote node's latest block.
	BlockNumber(ctx context.Context) (uint64, error)

	// BlockByNumber returns the block at the given height on the remote
	// node's canonical chain, or nil if there is none yet.
	BlockByNumber(ctx context.Context, height uint64) (*chain.Block, error)

	// BlockByHash returns the block with the given hash, or nil if the
	// remote node does not know it.
	BlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error)

	// InitiateChangeLogs returns the InitiateChange events emitted by the
	// given validator contract in the height range [fromBlock, toBlock],
	// ordered by block number.
	InitiateChangeLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]InitiateChange, error)
}

// InitiateChange is a validator set change announced by a validator
// contract.
type InitiateChange struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Validators  []common.Address
}
