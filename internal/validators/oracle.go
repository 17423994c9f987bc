package validators

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Epoch is a contiguous height range sharing a validator set. It governs all
// heights from StartHeight up to the next epoch's start.
type Epoch struct {
	StartHeight uint64
	Validators  []common.Address
}

// ErrEpochNotReady is returned when the oracle is asked about a height it has
// no epoch information for yet. The condition is transient: callers stall and
// retry once the epoch fetcher has caught up.
type ErrEpochNotReady struct {
	Height uint64
}

func (e *ErrEpochNotReady) Error() string {
	return fmt.Sprintf("no epoch known for height %d yet", e.Height)
}

// PrimaryOracle answers which validator is assigned to propose at a given
// step. Epochs are appended in start-height order; the max height watermark
// marks how far the epoch information is known to be complete.
type PrimaryOracle struct {
	epochs    []Epoch
	maxHeight uint64
}

// NewPrimaryOracle creates an oracle with no epochs.
func NewPrimaryOracle() *PrimaryOracle {
	return &PrimaryOracle{}
}

// AddEpoch appends an epoch. The start height must be strictly greater than
// the previous epoch's; violations are programming errors.
func (o *PrimaryOracle) AddEpoch(epoch Epoch) {
	if len(epoch.Validators) == 0 {
		panic("oracle: epoch without validators")
	}
	if len(o.epochs) > 0 && epoch.StartHeight <= o.epochs[len(o.epochs)-1].StartHeight {
		panic(fmt.Sprintf("oracle: epoch start height %d not greater than previous %d",
			epoch.StartHeight, o.epochs[len(o.epochs)-1].StartHeight))
	}
	o.epochs = append(o.epochs, epoch)
}

// LastEpochStart returns the start height of the most recently added epoch.
// The second return value is false if no epoch has been added yet.
func (o *PrimaryOracle) LastEpochStart() (uint64, bool) {
	if len(o.epochs) == 0 {
		return 0, false
	}
	return o.epochs[len(o.epochs)-1].StartHeight, true
}

// SetMaxHeight advances the watermark up to which epoch information is
// complete.
func (o *PrimaryOracle) SetMaxHeight(height uint64) {
	if height > o.maxHeight {
		o.maxHeight = height
	}
}

// MaxHeight returns the current watermark.
func (o *PrimaryOracle) MaxHeight() uint64 {
	return o.maxHeight
}

// epochAt returns the epoch governing the given height: the one with the
// greatest start height not exceeding it.
func (o *PrimaryOracle) epochAt(height uint64) (*Epoch, error) {
	if height > o.maxHeight {
		return nil, &ErrEpochNotReady{Height: height}
	}
	// index of the first epoch starting after height
	i := sort.Search(len(o.epochs), func(i int) bool {
		return o.epochs[i].StartHeight > height
	})
	if i == 0 {
		return nil, &ErrEpochNotReady{Height: height}
	}
	return &o.epochs[i-1], nil
}

// GetProposer returns the validator assigned to propose at the given step,
// under the epoch governing the given height.
func (o *PrimaryOracle) GetProposer(step, height uint64) (common.Address, error) {
	epoch, err := o.epochAt(height)
	if err != nil {
		return common.Address{}, err
	}
	return epoch.Validators[step%uint64(len(epoch.Validators))], nil
}

// GetAssignedSteps returns every step in the half-open range [lo, hi) that is
// assigned to the given proposer under the epoch governing the given height.
// Assignments repeat with the validator set size, so the steps are computed
// by modular arithmetic instead of enumeration.
func (o *PrimaryOracle) GetAssignedSteps(proposer common.Address, lo, hi, height uint64) ([]uint64, error) {
	if hi <= lo {
		return nil, nil
	}
	epoch, err := o.epochAt(height)
	if err != nil {
		return nil, err
	}

	pos := -1
	for i, v := range epoch.Validators {
		if v == proposer {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, nil
	}

	n := uint64(len(epoch.Validators))
	offset := (uint64(pos) + n - lo%n) % n

	var steps []uint64
	for s := lo + offset; s < hi; s += n {
		steps = append(steps, s)
	}
	return steps, nil
}
