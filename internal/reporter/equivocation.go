package reporter

import (
	"fmt"

	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
)

// EquivocationCallback receives all stored blocks a proposer signed at the
// same step, at least two, whenever the set grows.
type EquivocationCallback func(blocks []*chain.Block) error

// EquivocationReporter detects proposers that signed more than one block at
// the same step. It inspects the block store on every emission, so it needs
// no serialized state: the evidence is the stored blocks themselves.
type EquivocationReporter struct {
	store     *db.BlockStore
	reported  map[string]int
	callbacks []EquivocationCallback
	log       *logger.Logger
}

// NewEquivocationReporter creates an equivocation reporter over the given
// store.
func NewEquivocationReporter(store *db.BlockStore, log *logger.Logger) *EquivocationReporter {
	return &EquivocationReporter{
		store:    store,
		reported: make(map[string]int),
		log:      log.WithComponent(internalcommon.ComponentEquivocation),
	}
}

// RegisterReportCallback adds a callback to be invoked for every detected
// equivocation.
func (r *EquivocationReporter) RegisterReportCallback(cb EquivocationCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// OnBlock checks whether the proposer of a newly stored block has signed
// other blocks at the same step. Each (step, proposer) hash set is reported
// once per growth.
func (r *EquivocationReporter) OnBlock(b *chain.Block) error {
	blocks, err := r.store.BlocksByStepAndProposer(b.Step, b.Proposer)
	if err != nil {
		return err
	}
	if len(blocks) < 2 {
		return nil
	}

	key := fmt.Sprintf("%d:%s", b.Step, b.Proposer.Hex())
	if len(blocks) <= r.reported[key] {
		return nil
	}
	r.reported[key] = len(blocks)

	r.log.Warnw("equivocation detected",
		"proposer", b.Proposer.Hex(),
		"step", b.Step,
		"blocks", len(blocks),
	)
	for _, cb := range r.callbacks {
		if err := cb(blocks); err != nil {
			return err
		}
	}
	metrics.EquivocationsReported.Inc()
	return nil
}
