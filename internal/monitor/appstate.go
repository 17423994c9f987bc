package monitor

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/fetcher"
	"github.com/jannikluhn/tlbc-monitor/internal/reporter"
)

const (
	appStateKey = "appstate"

	appStateVersion1 = 1
	appStateVersion2 = 2
)

// InvalidAppStateError reports a checkpointed app state the monitor cannot
// resume from. The operator has to run with --upgrade-db or delete the
// database.
type InvalidAppStateError struct {
	Version int
}

func (e *InvalidAppStateError) Error() string {
	return fmt.Sprintf("unsupported app state version %d", e.Version)
}

// AppStateV2 is the current checkpoint format: the serializable states of
// the block fetcher and both stateful reporters.
type AppStateV2 struct {
	BlockFetcher    fetcher.State                 `json:"block_fetcher"`
	SkipReporter    reporter.SkipReporterState    `json:"skip_reporter"`
	OfflineReporter reporter.OfflineReporterState `json:"offline_reporter"`
}

// AppStateV1 is the legacy checkpoint format. It tracked neither the skip
// reporter's pending queue nor the offline reporters' miss windows, only
// which validators had already been reported.
type AppStateV1 struct {
	BlockFetcher       fetcher.State           `json:"block_fetcher"`
	LatestStep         int64                   `json:"latest_step"`
	ReportedValidators map[common.Address]bool `json:"reported_validators"`
}

// appStateEnvelope is the versioned wrapper the checkpoint blob is stored
// in.
type appStateEnvelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

func freshAppState() *AppStateV2 {
	return &AppStateV2{
		BlockFetcher:    fetcher.FreshState(),
		SkipReporter:    reporter.FreshSkipReporterState(),
		OfflineReporter: reporter.FreshOfflineReporterState(),
	}
}

// upgradeV1ToV2 converts a legacy state. The conversion is total but lossy:
// the pending queue and the miss windows cannot be reconstructed, so skips
// within the grace period and misses within the offline window around the
// upgrade are not accounted.
func upgradeV1ToV2(v1 *AppStateV1) *AppStateV2 {
	v2 := freshAppState()
	v2.BlockFetcher = v1.BlockFetcher
	v2.SkipReporter.LatestStep = v1.LatestStep
	if v1.LatestStep > 0 {
		v2.SkipReporter.HeadStep = uint64(v1.LatestStep)
	}
	for validator, reported := range v1.ReportedValidators {
		v2.OfflineReporter.Validators[validator] = &reporter.ValidatorWindow{Reported: reported}
	}
	return v2
}

// encodeAppState wraps the state into the versioned envelope and marshals
// it.
func encodeAppState(state *AppStateV2) ([]byte, error) {
	inner, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(appStateEnvelope{
		Version: appStateVersion2,
		State:   inner,
	})
}

// decodeAppState unmarshals a checkpoint blob. Legacy versions are upgraded
// only when the operator opted in; unknown versions are rejected.
func decodeAppState(blob []byte, upgrade bool) (*AppStateV2, bool, error) {
	var envelope appStateEnvelope
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return nil, false, &db.InvalidDataError{Msg: fmt.Sprintf("corrupt app state: %v", err)}
	}

	switch envelope.Version {
	case appStateVersion2:
		var state AppStateV2
		if err := json.Unmarshal(envelope.State, &state); err != nil {
			return nil, false, &db.InvalidDataError{Msg: fmt.Sprintf("corrupt app state: %v", err)}
		}
		if state.OfflineReporter.Validators == nil {
			state.OfflineReporter.Validators = reporter.FreshOfflineReporterState().Validators
		}
		return &state, false, nil
	case appStateVersion1:
		if !upgrade {
			return nil, false, &InvalidAppStateError{Version: envelope.Version}
		}
		var state AppStateV1
		if err := json.Unmarshal(envelope.State, &state); err != nil {
			return nil, false, &db.InvalidDataError{Msg: fmt.Sprintf("corrupt app state: %v", err)}
		}
		return upgradeV1ToV2(&state), true, nil
	default:
		return nil, false, &InvalidAppStateError{Version: envelope.Version}
	}
}
