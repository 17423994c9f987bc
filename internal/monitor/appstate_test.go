package monitor

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/reporter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppStateRoundtrip(t *testing.T) {
	state := freshAppState()
	state.BlockFetcher.Initialized = true
	state.BlockFetcher.HeadHash = common.HexToHash("0xabc")
	state.BlockFetcher.StartHeight = 10
	state.BlockFetcher.BranchID = 3
	state.SkipReporter.LatestStep = 100
	state.SkipReporter.HeadStep = 110
	state.OfflineReporter.Validators[common.HexToAddress("0x1111111111111111111111111111111111111111")] =
		&reporter.ValidatorWindow{Misses: []uint64{101, 105}, Reported: true}

	blob, err := encodeAppState(state)
	require.NoError(t, err)

	decoded, upgraded, err := decodeAppState(blob, false)
	require.NoError(t, err)
	assert.False(t, upgraded)
	assert.Equal(t, state.BlockFetcher, decoded.BlockFetcher)
	assert.Equal(t, state.SkipReporter, decoded.SkipReporter)

	window := decoded.OfflineReporter.Validators[common.HexToAddress("0x1111111111111111111111111111111111111111")]
	require.NotNil(t, window)
	assert.Equal(t, []uint64{101, 105}, window.Misses)
	assert.True(t, window.Reported)
}

func TestDecodeAppStateV1RequiresUpgrade(t *testing.T) {
	v1 := AppStateV1{
		LatestStep: 42,
		ReportedValidators: map[common.Address]bool{
			common.HexToAddress("0x2222222222222222222222222222222222222222"): true,
		},
	}
	inner, err := json.Marshal(v1)
	require.NoError(t, err)
	blob, err := json.Marshal(appStateEnvelope{Version: appStateVersion1, State: inner})
	require.NoError(t, err)

	_, _, err = decodeAppState(blob, false)
	var invalidState *InvalidAppStateError
	require.ErrorAs(t, err, &invalidState)
	assert.Equal(t, 1, invalidState.Version)
}

func TestDecodeAppStateUpgradesV1(t *testing.T) {
	validator := common.HexToAddress("0x2222222222222222222222222222222222222222")
	v1 := AppStateV1{
		LatestStep:         42,
		ReportedValidators: map[common.Address]bool{validator: true},
	}
	inner, err := json.Marshal(v1)
	require.NoError(t, err)
	blob, err := json.Marshal(appStateEnvelope{Version: appStateVersion1, State: inner})
	require.NoError(t, err)

	state, upgraded, err := decodeAppState(blob, true)
	require.NoError(t, err)
	assert.True(t, upgraded)

	assert.Equal(t, int64(42), state.SkipReporter.LatestStep)
	assert.Equal(t, uint64(42), state.SkipReporter.HeadStep)
	assert.Empty(t, state.SkipReporter.Pending)

	window := state.OfflineReporter.Validators[validator]
	require.NotNil(t, window)
	assert.True(t, window.Reported)
	assert.Empty(t, window.Misses)
}

func TestDecodeAppStateRejectsUnknownVersion(t *testing.T) {
	blob, err := json.Marshal(appStateEnvelope{Version: 99, State: []byte("{}")})
	require.NoError(t, err)

	_, _, err = decodeAppState(blob, true)
	var invalidState *InvalidAppStateError
	require.ErrorAs(t, err, &invalidState)
	assert.Equal(t, 99, invalidState.Version)
}

func TestDecodeAppStateRejectsCorruptBlob(t *testing.T) {
	_, _, err := decodeAppState([]byte("not json"), false)
	var invalidData *db.InvalidDataError
	require.ErrorAs(t, err, &invalidData)
}

func TestUpgradedStateReencodesAsV2(t *testing.T) {
	inner, err := json.Marshal(AppStateV1{LatestStep: 7})
	require.NoError(t, err)
	blob, err := json.Marshal(appStateEnvelope{Version: appStateVersion1, State: inner})
	require.NoError(t, err)

	state, _, err := decodeAppState(blob, true)
	require.NoError(t, err)

	reencoded, err := encodeAppState(state)
	require.NoError(t, err)

	var envelope appStateEnvelope
	require.NoError(t, json.Unmarshal(reencoded, &envelope))
	assert.Equal(t, appStateVersion2, envelope.Version)
}
