package reporter

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/validators"
)

// SkippedProposal is a step whose assigned validator produced no block.
type SkippedProposal struct {
	Validator common.Address
	Step      uint64
	// Height is the height of the block whose step gap revealed the skip.
	// It selects the epoch the assignment was computed under.
	Height uint64
}

// SkipCallback receives every skipped proposal.
type SkipCallback func(SkippedProposal) error

// pendingBlock is a seen block still inside the grace period.
type pendingBlock struct {
	Step   uint64 `json:"step"`
	Height uint64 `json:"height"`
}

// SkipReporterState is the serializable state of the skip reporter.
type SkipReporterState struct {
	// LatestStep is the last step up to which assignments have been
	// accounted, -1 if none has been.
	LatestStep int64 `json:"latest_step"`
	// HeadStep is the highest step seen so far.
	HeadStep uint64 `json:"head_step"`
	// Pending holds seen blocks within the grace period, ascending by step.
	Pending []pendingBlock `json:"pending"`
}

// FreshSkipReporterState returns the state of a reporter that has not seen
// any block.
func FreshSkipReporterState() SkipReporterState {
	return SkipReporterState{LatestStep: -1}
}

// SkipReporter detects steps at which the assigned validator did not
// propose. Blocks are held back for a grace period before the gap below them
// is accounted, accommodating late arrivals.
type SkipReporter struct {
	oracle      *validators.PrimaryOracle
	gracePeriod uint64
	state       SkipReporterState
	callbacks   []SkipCallback
	log         *logger.Logger
}

// NewSkipReporter creates a skip reporter resuming from the given state.
func NewSkipReporter(state SkipReporterState, oracle *validators.PrimaryOracle, gracePeriod uint64, log *logger.Logger) *SkipReporter {
	return &SkipReporter{
		oracle:      oracle,
		gracePeriod: gracePeriod,
		state:       state,
		log:         log.WithComponent(internalcommon.ComponentSkipReporter),
	}
}

// RegisterReportCallback adds a callback to be invoked for every skipped
// proposal.
func (r *SkipReporter) RegisterReportCallback(cb SkipCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// State returns the serializable reporter state.
func (r *SkipReporter) State() SkipReporterState {
	return r.state
}

// RestoreState resets the reporter to a previously checkpointed state.
func (r *SkipReporter) RestoreState(state SkipReporterState) {
	r.state = state
}

// OnBlock accounts a newly canonical block. Once a block has fallen out of
// the grace period, every unaccounted step below it that produced no block
// is reported as skipped. If the oracle does not know the relevant epoch yet
// the reporter stalls and retries on the next block.
func (r *SkipReporter) OnBlock(b *chain.Block) error {
	r.pushPending(pendingBlock{Step: b.Step, Height: b.Height})
	if b.Step > r.state.HeadStep {
		r.state.HeadStep = b.Step
	}

	for len(r.state.Pending) > 0 {
		p := r.state.Pending[0]
		if r.state.HeadStep-p.Step < r.gracePeriod {
			break
		}

		// the first accounted block only anchors the accounting; there is
		// no gap to report below it
		if r.state.LatestStep < 0 {
			r.state.LatestStep = int64(p.Step)
			r.state.Pending = r.state.Pending[1:]
			continue
		}

		for s := uint64(r.state.LatestStep + 1); s < p.Step; s++ {
			proposer, err := r.oracle.GetProposer(s, p.Height)
			var notReady *validators.ErrEpochNotReady
			if errors.As(err, &notReady) {
				// stall; the pending block stays queued for the next cycle
				r.log.Debugw("stalling skip detection", "step", s, "height", p.Height)
				return nil
			}
			if err != nil {
				return err
			}

			skip := SkippedProposal{Validator: proposer, Step: s, Height: p.Height}
			for _, cb := range r.callbacks {
				if err := cb(skip); err != nil {
					return err
				}
			}
			metrics.SkipsReported.Inc()
			// advance per reported step so a stall never repeats a report
			r.state.LatestStep = int64(s)
		}

		if int64(p.Step) > r.state.LatestStep {
			r.state.LatestStep = int64(p.Step)
		}
		r.state.Pending = r.state.Pending[1:]
	}

	return nil
}

// pushPending inserts a block into the pending queue, keeping it ordered by
// step. Reorgs may deliver steps below the current head step, so plain
// appending is not enough.
func (r *SkipReporter) pushPending(p pendingBlock) {
	i := sort.Search(len(r.state.Pending), func(i int) bool {
		return r.state.Pending[i].Step >= p.Step
	})
	if i < len(r.state.Pending) && r.state.Pending[i].Step == p.Step {
		return
	}
	r.state.Pending = append(r.state.Pending, pendingBlock{})
	copy(r.state.Pending[i+1:], r.state.Pending[i:])
	r.state.Pending[i] = p
}
