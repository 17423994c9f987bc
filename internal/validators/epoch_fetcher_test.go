package validators

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	"github.com/jannikluhn/tlbc-monitor/internal/chainspec"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLogClient serves a fixed remote head and a fixed set of
// InitiateChange events.
type fakeLogClient struct {
	head    uint64
	changes []rpc.InitiateChange

	queriedRanges [][2]uint64
}

func (c *fakeLogClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeLogClient) BlockByNumber(ctx context.Context, height uint64) (*chain.Block, error) {
	return nil, nil
}

func (c *fakeLogClient) BlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error) {
	return nil, nil
}

func (c *fakeLogClient) InitiateChangeLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]rpc.InitiateChange, error) {
	c.queriedRanges = append(c.queriedRanges, [2]uint64{fromBlock, toBlock})
	var result []rpc.InitiateChange
	for _, change := range c.changes {
		if change.BlockNumber >= fromBlock && change.BlockNumber <= toBlock {
			result = append(result, change)
		}
	}
	return result, nil
}

var contractAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

func contractRanges() []chainspec.ValidatorDefinitionRange {
	return []chainspec.ValidatorDefinitionRange{
		{
			EnterHeight:        0,
			TransitionToHeight: 100,
			Validators:         []common.Address{validatorA},
		},
		{
			EnterHeight:        100,
			TransitionToHeight: chainspec.OpenEndedHeight,
			IsContract:         true,
			ContractAddress:    contractAddr,
		},
	}
}

func TestFetchNewEpochs(t *testing.T) {
	client := &fakeLogClient{
		head: 500,
		changes: []rpc.InitiateChange{
			{BlockNumber: 150, Validators: []common.Address{validatorA, validatorB}},
			{BlockNumber: 300, Validators: []common.Address{validatorB, validatorC}},
		},
	}
	fetcher := NewEpochFetcher(client, contractRanges(), logger.NewNopLogger())

	epochs, err := fetcher.FetchNewEpochs(context.Background())
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, Epoch{StartHeight: 150, Validators: []common.Address{validatorA, validatorB}}, epochs[0])
	assert.Equal(t, Epoch{StartHeight: 300, Validators: []common.Address{validatorB, validatorC}}, epochs[1])
	assert.Equal(t, uint64(500), fetcher.LastFetchHeight())

	// contract ranges are scanned from their enter height only
	require.NotEmpty(t, client.queriedRanges)
	assert.Equal(t, uint64(100), client.queriedRanges[0][0])
}

func TestFetchNewEpochsAdvancesIncrementally(t *testing.T) {
	client := &fakeLogClient{
		head: 200,
		changes: []rpc.InitiateChange{
			{BlockNumber: 150, Validators: []common.Address{validatorA}},
			{BlockNumber: 250, Validators: []common.Address{validatorB}},
		},
	}
	fetcher := NewEpochFetcher(client, contractRanges(), logger.NewNopLogger())

	epochs, err := fetcher.FetchNewEpochs(context.Background())
	require.NoError(t, err)
	require.Len(t, epochs, 1)
	assert.Equal(t, uint64(150), epochs[0].StartHeight)
	assert.Equal(t, uint64(200), fetcher.LastFetchHeight())

	// nothing new while the head does not move
	epochs, err = fetcher.FetchNewEpochs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, epochs)

	// the head advances past the second event
	client.head = 400
	epochs, err = fetcher.FetchNewEpochs(context.Background())
	require.NoError(t, err)
	require.Len(t, epochs, 1)
	assert.Equal(t, uint64(250), epochs[0].StartHeight)
	assert.Equal(t, uint64(400), fetcher.LastFetchHeight())
}

func TestFetchNewEpochsCollapsesSameHeightEvents(t *testing.T) {
	client := &fakeLogClient{
		head: 200,
		changes: []rpc.InitiateChange{
			{BlockNumber: 150, Validators: []common.Address{validatorA}},
			{BlockNumber: 150, Validators: []common.Address{validatorB}},
		},
	}
	fetcher := NewEpochFetcher(client, contractRanges(), logger.NewNopLogger())

	epochs, err := fetcher.FetchNewEpochs(context.Background())
	require.NoError(t, err)
	require.Len(t, epochs, 1)
	assert.Equal(t, []common.Address{validatorB}, epochs[0].Validators)
}

func TestStaticEpochs(t *testing.T) {
	epochs := StaticEpochs(contractRanges())
	require.Len(t, epochs, 1)
	assert.Equal(t, uint64(0), epochs[0].StartHeight)
	assert.Equal(t, []common.Address{validatorA}, epochs[0].Validators)
}
