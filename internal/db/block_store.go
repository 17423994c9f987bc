package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/russross/meddler"
)

// BlockStore is the durable record of observed blocks, their branch
// assignment and the monitor's checkpoint blob. All mutations of one fetch
// cycle run inside a single transaction: a crash before commit leaves the
// store identical to its pre-cycle state.
type BlockStore struct {
	db  *sql.DB
	tx  *sql.Tx
	log *logger.Logger
}

// NewBlockStore creates a block store on top of an open database.
func NewBlockStore(database *sql.DB, log *logger.Logger) *BlockStore {
	return &BlockStore{
		db:  database,
		log: log.WithComponent(internalcommon.ComponentBlockStore),
	}
}

// q returns the open cycle transaction if there is one, the bare connection
// otherwise. Reads during a cycle observe the uncommitted writes.
func (s *BlockStore) q() meddler.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// WithTransaction runs fn inside a transaction covering all store
// operations issued from it. The transaction is committed if fn returns nil
// and rolled back otherwise.
func (s *BlockStore) WithTransaction(fn func() error) error {
	if s.tx != nil {
		return fmt.Errorf("transaction already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	defer func() {
		s.tx = nil
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertBlock persists a block on the given branch. Inserting the same block
// twice is a no-op.
func (s *BlockStore) InsertBlock(b *chain.Block, branchID uint64) error {
	_, err := s.q().Exec(`
		INSERT OR IGNORE INTO blocks
			(hash, parent_hash, height, step, timestamp, proposer, signature, header_rlp, branch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Hash.Hex(), b.ParentHash.Hex(), b.Height, b.Step, b.Timestamp,
		b.Proposer.Hex(), b.Signature, b.HeaderRLP, branchID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block %s: %w", b.Hash.Hex(), err)
	}
	return nil
}

// GetBlock returns the block with the given hash, or nil if it is not
// stored.
func (s *BlockStore) GetBlock(hash common.Hash) (*chain.Block, error) {
	var block chain.Block
	err := meddler.QueryRow(s.q(), &block, "SELECT * FROM blocks WHERE hash = ?", hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block %s: %w", hash.Hex(), err)
	}
	return &block, nil
}

// BlocksAtHeight returns all stored blocks at the given height, across all
// branches.
func (s *BlockStore) BlocksAtHeight(height uint64) ([]*chain.Block, error) {
	var blocks []*chain.Block
	err := meddler.QueryAll(s.q(), &blocks, "SELECT * FROM blocks WHERE height = ? ORDER BY branch_id ASC", height)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks at height %d: %w", height, err)
	}
	return blocks, nil
}

// BlocksByStepAndProposer returns all stored blocks produced at the given
// step by the given proposer, the multiplicity the equivocation reporter
// inspects.
func (s *BlockStore) BlocksByStepAndProposer(step uint64, proposer common.Address) ([]*chain.Block, error) {
	var blocks []*chain.Block
	err := meddler.QueryAll(s.q(), &blocks,
		"SELECT * FROM blocks WHERE proposer = ? AND step = ? ORDER BY hash ASC", proposer.Hex(), step)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks at step %d by %s: %w", step, proposer.Hex(), err)
	}
	return blocks, nil
}

// BranchTip returns the highest stored block of the given branch, or nil if
// the branch holds no blocks.
func (s *BlockStore) BranchTip(branchID uint64) (*chain.Block, error) {
	var block chain.Block
	err := meddler.QueryRow(s.q(), &block,
		"SELECT * FROM blocks WHERE branch_id = ? ORDER BY height DESC LIMIT 1", branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tip of branch %d: %w", branchID, err)
	}
	return &block, nil
}

// NewBranchID allocates a fresh branch identifier. Identifiers are never
// reused, also across restarts.
func (s *BlockStore) NewBranchID() (uint64, error) {
	result, err := s.q().Exec("INSERT INTO branches DEFAULT VALUES")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate branch id: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read allocated branch id: %w", err)
	}
	return uint64(id), nil
}

// PruneBelow deletes all blocks strictly below the given height. Blocks that
// deep can no longer be replaced by a reorg.
func (s *BlockStore) PruneBelow(height uint64) (int64, error) {
	result, err := s.q().Exec("DELETE FROM blocks WHERE height < ?", height)
	if err != nil {
		return 0, fmt.Errorf("failed to prune blocks below %d: %w", height, err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.log.Debugf("pruned old blocks: below_height=%d deleted_count=%d", height, deleted)
	}
	return deleted, nil
}

// SaveCheckpoint stores an opaque checkpoint blob under the given key,
// overwriting any previous value.
func (s *BlockStore) SaveCheckpoint(key string, value []byte) error {
	_, err := s.q().Exec(`
		INSERT INTO checkpoints (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %q: %w", key, err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint blob stored under the given key, or
// nil if there is none.
func (s *BlockStore) LoadCheckpoint(key string) ([]byte, error) {
	var value []byte
	err := s.q().QueryRow("SELECT value FROM checkpoints WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %q: %w", key, err)
	}
	return value, nil
}
