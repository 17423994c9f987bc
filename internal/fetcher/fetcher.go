package fetcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/rpc"
)

// ErrReorgTooDeep is returned when no common ancestor is found within the
// maximum reorg depth. Blocks that deep are assumed final, so the condition
// is unrecoverable: the operator has to investigate or resync.
type ErrReorgTooDeep struct {
	MaxDepth uint64
}

func (e *ErrReorgTooDeep) Error() string {
	return fmt.Sprintf("no common ancestor within %d blocks, refusing to follow reorg", e.MaxDepth)
}

// Callback receives every newly canonical block, in strictly increasing
// height order along the branch that is canonical at emission time.
type Callback func(*chain.Block) error

// State is the serializable part of the fetcher, persisted in the app
// checkpoint. The head block itself is re-read from the store on restart.
type State struct {
	Initialized bool        `json:"initialized"`
	HeadHash    common.Hash `json:"head_hash"`
	StartHeight uint64      `json:"start_height"`
	BranchID    uint64      `json:"branch_id"`
}

// FreshState returns the state of a fetcher that has not seen any block.
func FreshState() State {
	return State{}
}

// BlockFetcher advances the monitor's notion of the canonical chain. It
// polls the remote head, downloads new blocks, resolves reorgs up to a
// bounded depth and delivers each newly canonical block exactly once, in
// order, to the registered callbacks.
type BlockFetcher struct {
	client        rpc.EthClient
	store         *db.BlockStore
	selector      *BlockSelector
	maxReorgDepth uint64
	log           *logger.Logger

	head        *chain.Block
	startHeight uint64
	branchID    uint64
	remoteHead  uint64

	callbacks []Callback
}

// NewBlockFetcher creates a fetcher in fresh state.
func NewBlockFetcher(client rpc.EthClient, store *db.BlockStore, selector *BlockSelector, maxReorgDepth uint64, log *logger.Logger) *BlockFetcher {
	return &BlockFetcher{
		client:        client,
		store:         store,
		selector:      selector,
		maxReorgDepth: maxReorgDepth,
		log:           log.WithComponent(internalcommon.ComponentBlockFetcher),
	}
}

// RestoreState restores the fetcher from a checkpointed state, re-reading
// the head block from the store.
func (f *BlockFetcher) RestoreState(state State) error {
	if !state.Initialized {
		f.head = nil
		f.startHeight = 0
		f.branchID = 0
		return nil
	}
	head, err := f.store.GetBlock(state.HeadHash)
	if err != nil {
		return err
	}
	if head == nil {
		return &db.InvalidDataError{Msg: fmt.Sprintf("checkpointed head block %s not in store", state.HeadHash.Hex())}
	}
	f.head = head
	f.startHeight = state.StartHeight
	f.branchID = state.BranchID
	f.log.Infow("restored fetcher state", "head", head.String(), "branch", state.BranchID)
	return nil
}

// State returns the serializable fetcher state.
func (f *BlockFetcher) State() State {
	if f.head == nil {
		return FreshState()
	}
	return State{
		Initialized: true,
		HeadHash:    f.head.Hash,
		StartHeight: f.startHeight,
		BranchID:    f.branchID,
	}
}

// RegisterReportCallback adds a callback to be invoked for every newly
// canonical block.
func (f *BlockFetcher) RegisterReportCallback(cb Callback) {
	f.callbacks = append(f.callbacks, cb)
}

// Head returns the tip of the currently canonical branch, nil before the
// initial block has been resolved.
func (f *BlockFetcher) Head() *chain.Block {
	return f.head
}

// Syncing reports whether the remote head is ahead of the monitor's head.
func (f *BlockFetcher) Syncing() bool {
	return f.head == nil || f.remoteHead > f.head.Height
}

// SyncStatus returns the sync progress between the initial block and the
// remote head as a value in [0, 1].
func (f *BlockFetcher) SyncStatus() float64 {
	if f.head == nil {
		return 0
	}
	total := float64(1)
	if f.remoteHead > f.startHeight {
		total = float64(f.remoteHead - f.startHeight)
	}
	status := float64(f.head.Height-f.startHeight) / total
	if status > 1 {
		status = 1
	}
	return status
}

// FetchAndInsertNewBlocks runs one fetch cycle: it advances the head along
// the remote node's canonical chain, stores every new block and emits it to
// the callbacks. It stops once maxCount blocks have been emitted, the head
// has reached maxHeight, or the remote head has been reached. It returns the
// number of blocks emitted.
func (f *BlockFetcher) FetchAndInsertNewBlocks(ctx context.Context, maxCount int, maxHeight uint64) (int, error) {
	remoteHead, err := f.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get remote head: %w", err)
	}
	f.remoteHead = remoteHead
	metrics.RemoteHeight.Set(float64(remoteHead))

	emitted := 0

	if f.head == nil {
		n, err := f.resolveInitialBlock(ctx, remoteHead, maxHeight)
		if err != nil {
			return 0, err
		}
		emitted += n
	}

	for emitted < maxCount && f.head.Height < maxHeight && f.head.Height < remoteHead {
		block, err := f.client.BlockByNumber(ctx, f.head.Height+1)
		if err != nil {
			return emitted, err
		}
		if block == nil {
			break
		}

		if block.ParentHash == f.head.Hash {
			if err := f.store.InsertBlock(block, f.branchID); err != nil {
				return emitted, err
			}
			f.head = block
			if err := f.emit(block); err != nil {
				return emitted, err
			}
			emitted++
			continue
		}

		n, err := f.resolveReorg(ctx, block)
		emitted += n
		if err != nil {
			return emitted, err
		}
	}

	// the remote may have switched to a competing branch of the same length
	if emitted < maxCount && f.head.Height == remoteHead {
		block, err := f.client.BlockByNumber(ctx, f.head.Height)
		if err != nil {
			return emitted, err
		}
		if block != nil && block.Hash != f.head.Hash {
			n, err := f.resolveReorg(ctx, block)
			emitted += n
			if err != nil {
				return emitted, err
			}
		}
	}

	if f.head.Height > f.maxReorgDepth {
		if _, err := f.store.PruneBelow(f.head.Height - f.maxReorgDepth); err != nil {
			return emitted, err
		}
	}

	metrics.HeadHeight.Set(float64(f.head.Height))
	metrics.SyncStatus.Set(f.SyncStatus())
	return emitted, nil
}

// resolveInitialBlock fetches the block selected by --sync-from and makes it
// the head of a fresh branch.
func (f *BlockFetcher) resolveInitialBlock(ctx context.Context, remoteHead, maxHeight uint64) (int, error) {
	height := f.selector.Resolve(remoteHead)
	if height > maxHeight {
		height = maxHeight
	}

	block, err := f.client.BlockByNumber(ctx, height)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, fmt.Errorf("initial block at height %d not available", height)
	}

	branchID, err := f.store.NewBranchID()
	if err != nil {
		return 0, err
	}
	if err := f.store.InsertBlock(block, branchID); err != nil {
		return 0, err
	}

	f.head = block
	f.startHeight = block.Height
	f.branchID = branchID
	f.log.Infow("resolved initial block", "block", block.String(), "branch", branchID)

	if err := f.emit(block); err != nil {
		return 0, err
	}
	return 1, nil
}

// resolveReorg walks back from the given block until a stored common
// ancestor is found, inserts the new branch and emits its blocks in
// ascending height order. All blocks along the new branch are inserted
// before any is emitted.
func (f *BlockFetcher) resolveReorg(ctx context.Context, block *chain.Block) (int, error) {
	path := []*chain.Block{block}

	var ancestor *chain.Block
	for {
		if uint64(len(path)) > f.maxReorgDepth {
			return 0, &ErrReorgTooDeep{MaxDepth: f.maxReorgDepth}
		}

		stored, err := f.store.GetBlock(path[len(path)-1].ParentHash)
		if err != nil {
			return 0, err
		}
		if stored != nil {
			ancestor = stored
			break
		}

		parent, err := f.client.BlockByHash(ctx, path[len(path)-1].ParentHash)
		if err != nil {
			return 0, err
		}
		if parent == nil {
			return 0, fmt.Errorf("remote node does not know block %s while resolving reorg",
				path[len(path)-1].ParentHash.Hex())
		}
		path = append(path, parent)
	}

	if f.head.Height > ancestor.Height && f.head.Height-ancestor.Height > f.maxReorgDepth {
		return 0, &ErrReorgTooDeep{MaxDepth: f.maxReorgDepth}
	}

	// reverse into ascending height order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	branchID, err := f.store.NewBranchID()
	if err != nil {
		return 0, err
	}
	for _, b := range path {
		if err := f.store.InsertBlock(b, branchID); err != nil {
			return 0, err
		}
	}

	f.log.Infow("resolved reorg",
		"ancestor", ancestor.String(),
		"new_head", path[len(path)-1].String(),
		"branch", branchID,
		"depth", len(path),
	)
	metrics.ReorgsResolved.Inc()

	f.head = path[len(path)-1]
	f.branchID = branchID

	emitted := 0
	for _, b := range path {
		if err := f.emit(b); err != nil {
			return emitted, err
		}
		emitted++
	}
	return emitted, nil
}

func (f *BlockFetcher) emit(block *chain.Block) error {
	for _, cb := range f.callbacks {
		if err := cb(block); err != nil {
			return err
		}
	}
	metrics.BlocksFetched.Inc()
	return nil
}
