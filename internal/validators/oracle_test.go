package validators

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	validatorA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	validatorB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	validatorC = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func testOracle(t *testing.T) *PrimaryOracle {
	t.Helper()
	oracle := NewPrimaryOracle()
	oracle.AddEpoch(Epoch{StartHeight: 0, Validators: []common.Address{validatorA, validatorB}})
	oracle.AddEpoch(Epoch{StartHeight: 100, Validators: []common.Address{validatorA, validatorB, validatorC}})
	oracle.SetMaxHeight(1000)
	return oracle
}

func TestGetProposer(t *testing.T) {
	oracle := testOracle(t)

	// two validators below height 100
	proposer, err := oracle.GetProposer(10, 50)
	require.NoError(t, err)
	assert.Equal(t, validatorA, proposer)

	proposer, err = oracle.GetProposer(11, 50)
	require.NoError(t, err)
	assert.Equal(t, validatorB, proposer)

	// three validators from height 100 on
	proposer, err = oracle.GetProposer(11, 100)
	require.NoError(t, err)
	assert.Equal(t, validatorC, proposer)

	proposer, err = oracle.GetProposer(12, 100)
	require.NoError(t, err)
	assert.Equal(t, validatorA, proposer)
}

func TestGetProposerBeyondMaxHeight(t *testing.T) {
	oracle := testOracle(t)

	_, err := oracle.GetProposer(10, 1001)
	var notReady *ErrEpochNotReady
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, uint64(1001), notReady.Height)
}

func TestGetProposerBeforeFirstEpoch(t *testing.T) {
	oracle := NewPrimaryOracle()
	oracle.AddEpoch(Epoch{StartHeight: 50, Validators: []common.Address{validatorA}})
	oracle.SetMaxHeight(100)

	_, err := oracle.GetProposer(10, 20)
	var notReady *ErrEpochNotReady
	require.ErrorAs(t, err, &notReady)
}

func TestAddEpochPanicsOnNonIncreasingHeight(t *testing.T) {
	oracle := testOracle(t)

	assert.Panics(t, func() {
		oracle.AddEpoch(Epoch{StartHeight: 100, Validators: []common.Address{validatorA}})
	})
	assert.Panics(t, func() {
		oracle.AddEpoch(Epoch{StartHeight: 50, Validators: []common.Address{validatorA}})
	})
}

func TestAddEpochPanicsOnEmptyValidatorSet(t *testing.T) {
	oracle := NewPrimaryOracle()
	assert.Panics(t, func() {
		oracle.AddEpoch(Epoch{StartHeight: 0})
	})
}

func TestGetAssignedSteps(t *testing.T) {
	oracle := testOracle(t)

	// validatorB occupies position 1 of 2 below height 100
	steps, err := oracle.GetAssignedSteps(validatorB, 10, 20, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 13, 15, 17, 19}, steps)

	// position 2 of 3 from height 100 on
	steps, err = oracle.GetAssignedSteps(validatorC, 10, 20, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 14, 17}, steps)
}

func TestGetAssignedStepsBoundaries(t *testing.T) {
	oracle := testOracle(t)

	// empty range
	steps, err := oracle.GetAssignedSteps(validatorA, 10, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, steps)

	// range starting on an assigned step includes it
	steps, err = oracle.GetAssignedSteps(validatorA, 10, 11, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, steps)

	// exclusive upper bound
	steps, err = oracle.GetAssignedSteps(validatorB, 10, 12, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11}, steps)
}

func TestGetAssignedStepsUnknownValidator(t *testing.T) {
	oracle := testOracle(t)

	// validatorC is not in the epoch governing height 50
	steps, err := oracle.GetAssignedSteps(validatorC, 0, 100, 50)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestGetAssignedStepsBeyondMaxHeight(t *testing.T) {
	oracle := testOracle(t)

	_, err := oracle.GetAssignedSteps(validatorA, 0, 100, 2000)
	var notReady *ErrEpochNotReady
	require.ErrorAs(t, err, &notReady)
}

func TestLastEpochStart(t *testing.T) {
	oracle := NewPrimaryOracle()
	_, ok := oracle.LastEpochStart()
	assert.False(t, ok)

	oracle.AddEpoch(Epoch{StartHeight: 7, Validators: []common.Address{validatorA}})
	last, ok := oracle.LastEpochStart()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), last)
}
