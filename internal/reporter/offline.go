package reporter

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/validators"
)

// OfflineCallback receives a validator considered offline together with the
// steps it missed inside the window.
type OfflineCallback func(validator common.Address, missedSteps []uint64) error

// ValidatorWindow tracks the recently missed steps of one validator.
type ValidatorWindow struct {
	// Misses are the missed steps still inside the window, ascending.
	Misses []uint64 `json:"misses"`
	// Reported suppresses repeated reports for the same overlapping window.
	Reported bool `json:"reported"`
}

// OfflineReporterState is the serializable state of the offline reporter.
type OfflineReporterState struct {
	Validators map[common.Address]*ValidatorWindow `json:"validators"`
}

// FreshOfflineReporterState returns the state of a reporter that has not
// seen any skip.
func FreshOfflineReporterState() OfflineReporterState {
	return OfflineReporterState{Validators: make(map[common.Address]*ValidatorWindow)}
}

// OfflineReporter aggregates skipped proposals per validator over a sliding
// window of steps and reports validators whose skip rate exceeds the allowed
// maximum.
type OfflineReporter struct {
	oracle          *validators.PrimaryOracle
	windowSize      uint64
	allowedSkipRate float64
	state           OfflineReporterState
	callbacks       []OfflineCallback
	log             *logger.Logger
}

// NewOfflineReporter creates an offline reporter resuming from the given
// state. windowSize is the window length in steps.
func NewOfflineReporter(state OfflineReporterState, oracle *validators.PrimaryOracle, windowSize uint64, allowedSkipRate float64, log *logger.Logger) *OfflineReporter {
	if state.Validators == nil {
		state.Validators = make(map[common.Address]*ValidatorWindow)
	}
	return &OfflineReporter{
		oracle:          oracle,
		windowSize:      windowSize,
		allowedSkipRate: allowedSkipRate,
		state:           state,
		log:             log.WithComponent(internalcommon.ComponentOffline),
	}
}

// RegisterReportCallback adds a callback to be invoked for every offline
// validator report.
func (r *OfflineReporter) RegisterReportCallback(cb OfflineCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// State returns the serializable reporter state.
func (r *OfflineReporter) State() OfflineReporterState {
	return r.state
}

// RestoreState resets the reporter to a previously checkpointed state.
func (r *OfflineReporter) RestoreState(state OfflineReporterState) {
	if state.Validators == nil {
		state.Validators = make(map[common.Address]*ValidatorWindow)
	}
	r.state = state
}

// OnSkippedProposal accounts one skipped proposal. When the validator's
// misses inside the window exceed the allowed rate of its assignments, an
// offline report is emitted once per overlapping window.
func (r *OfflineReporter) OnSkippedProposal(skip SkippedProposal) error {
	w, ok := r.state.Validators[skip.Validator]
	if !ok {
		w = &ValidatorWindow{}
		r.state.Validators[skip.Validator] = w
	}

	windowLo := uint64(0)
	if skip.Step+1 > r.windowSize {
		windowLo = skip.Step + 1 - r.windowSize
	}

	// age out misses that left the window; the report suppression flag
	// clears with the first miss that does
	aged := 0
	for aged < len(w.Misses) && w.Misses[aged] < windowLo {
		aged++
	}
	if aged > 0 {
		w.Misses = append([]uint64(nil), w.Misses[aged:]...)
		w.Reported = false
	}

	// the window is strictly monotonic in step; re-deliveries are dropped
	if len(w.Misses) > 0 && skip.Step <= w.Misses[len(w.Misses)-1] {
		return nil
	}
	w.Misses = append(w.Misses, skip.Step)

	assigned, err := r.oracle.GetAssignedSteps(skip.Validator, windowLo, skip.Step+1, skip.Height)
	var notReady *validators.ErrEpochNotReady
	if errors.As(err, &notReady) {
		// the skip reporter only forwards steps whose epoch is known, so
		// this should not happen; stall to be safe
		r.log.Debugw("stalling offline detection", "step", skip.Step, "height", skip.Height)
		return nil
	}
	if err != nil {
		return err
	}

	assignments := len(assigned)
	if assignments < 1 || w.Reported {
		return nil
	}
	if float64(len(w.Misses))/float64(assignments) <= r.allowedSkipRate {
		return nil
	}

	w.Reported = true
	missed := append([]uint64(nil), w.Misses...)
	r.log.Warnw("validator considered offline",
		"validator", skip.Validator.Hex(),
		"misses", len(missed),
		"assignments", assignments,
	)
	for _, cb := range r.callbacks {
		if err := cb(skip.Validator, missed); err != nil {
			return err
		}
	}
	metrics.OfflineReported.Inc()
	return nil
}
