package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/config"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
)

// InitiateChangeTopic is the topic hash of the validator contract's
// InitiateChange(bytes32 indexed parentHash, address[] newSet) event.
var InitiateChangeTopic = crypto.Keccak256Hash([]byte("InitiateChange(bytes32,address[])"))

var initiateChangeData = abi.Arguments{{Type: mustNewType("address[]")}}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Compile-time check to ensure Client implements the EthClient interface.
var _ EthClient = (*Client)(nil)

// Client wraps the raw JSON-RPC client with the monitor's block and log
// queries. Blocks are fetched through the raw transport because the typed
// ethclient header does not surface AuthorityRound seal fields.
type Client struct {
	rpc         *gethrpc.Client
	retryConfig *config.RetryConfig
	timeout     time.Duration
	log         *logger.Logger
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, timeout time.Duration, retryConfig *config.RetryConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpc:         rpcClient,
		retryConfig: retryConfig,
		timeout:     timeout,
		log:         log.WithComponent(internalcommon.ComponentRPC),
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// call performs a single JSON-RPC call with the per-call timeout, retry
// policy and metrics applied.
func (c *Client) call(ctx context.Context, method string, result any, args ...any) error {
	start := time.Now()
	metrics.RPCMethodInc(method)
	defer func() {
		metrics.RPCMethodDuration(method, time.Since(start))
	}()

	err := retryWithBackoff(ctx, c.retryConfig, method, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.rpc.CallContext(callCtx, result, method, args...)
	})
	if err != nil {
		metrics.RPCMethodError(method, "error")
	}
	return err
}

// BlockNumber returns the height of the remote node's latest block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// BlockByNumber returns the block at the given height on the remote node's
// canonical chain, or nil if there is none yet.
func (c *Client) BlockByNumber(ctx context.Context, height uint64) (*chain.Block, error) {
	return c.getBlock(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(height), false)
}

// BlockByHash returns the block with the given hash, or nil if the remote
// node does not know it.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error) {
	return c.getBlock(ctx, "eth_getBlockByHash", hash, false)
}

func (c *Client) getBlock(ctx context.Context, method string, args ...any) (*chain.Block, error) {
	var raw json.RawMessage
	if err := c.call(ctx, method, &raw, args...); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var header rpcHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, &chain.InvalidDataError{Msg: fmt.Sprintf("undecodable block: %v", err)}
	}
	return header.toBlock()
}

// rpcLog is the subset of an eth_getLogs entry the monitor needs.
type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	Removed     bool           `json:"removed"`
}

// InitiateChangeLogs returns the InitiateChange events emitted by the given
// validator contract in the height range [fromBlock, toBlock].
func (c *Client) InitiateChangeLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]InitiateChange, error) {
	filter := map[string]any{
		"address":   contract,
		"topics":    [][]common.Hash{{InitiateChangeTopic}},
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   hexutil.EncodeUint64(toBlock),
	}

	var logs []rpcLog
	if err := c.call(ctx, "eth_getLogs", &logs, filter); err != nil {
		return nil, err
	}

	changes := make([]InitiateChange, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		validators, err := unpackInitiateChange(l.Data)
		if err != nil {
			return nil, &chain.InvalidDataError{Msg: fmt.Sprintf(
				"undecodable InitiateChange event at block %d: %v", uint64(l.BlockNumber), err)}
		}
		changes = append(changes, InitiateChange{
			BlockNumber: uint64(l.BlockNumber),
			BlockHash:   l.BlockHash,
			Validators:  validators,
		})
	}
	return changes, nil
}

func unpackInitiateChange(data []byte) ([]common.Address, error) {
	values, err := initiateChangeData.Unpack(data)
	if err != nil {
		return nil, err
	}
	validators, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", values[0])
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("empty validator set")
	}
	return validators, nil
}
