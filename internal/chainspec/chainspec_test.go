package chainspec

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainSpec = `{
	"name": "testchain",
	"engine": {
		"authorityRound": {
			"params": {
				"stepDuration": "5",
				"validators": {
					"0": {
						"list": [
							"0x1111111111111111111111111111111111111111",
							"0x2222222222222222222222222222222222222222"
						]
					},
					"100": {"safeContract": "0x3333333333333333333333333333333333333333"},
					"2000": {"contract": "0x4444444444444444444444444444444444444444"}
				}
			}
		}
	}
}`

func TestParseValidatorDefinitionRanges(t *testing.T) {
	ranges, err := ParseValidatorDefinitionRanges([]byte(testChainSpec))
	require.NoError(t, err)
	require.Len(t, ranges, 3)

	assert.Equal(t, uint64(0), ranges[0].EnterHeight)
	assert.Equal(t, uint64(100), ranges[0].TransitionToHeight)
	assert.False(t, ranges[0].IsContract)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}, ranges[0].Validators)

	assert.Equal(t, uint64(100), ranges[1].EnterHeight)
	assert.Equal(t, uint64(2000), ranges[1].TransitionToHeight)
	assert.True(t, ranges[1].IsContract)
	assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), ranges[1].ContractAddress)

	assert.Equal(t, uint64(2000), ranges[2].EnterHeight)
	assert.Equal(t, OpenEndedHeight, ranges[2].TransitionToHeight)
	assert.True(t, ranges[2].IsContract)
	assert.Equal(t, common.HexToAddress("0x4444444444444444444444444444444444444444"), ranges[2].ContractAddress)
}

func TestParseValidatorDefinitionRangesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{
			name: "no validators",
			spec: `{"engine": {"authorityRound": {"params": {}}}}`,
		},
		{
			name: "first range not at zero",
			spec: `{"engine": {"authorityRound": {"params": {"validators": {
				"10": {"list": ["0x1111111111111111111111111111111111111111"]}
			}}}}}`,
		},
		{
			name: "empty list",
			spec: `{"engine": {"authorityRound": {"params": {"validators": {
				"0": {"list": []}
			}}}}}`,
		},
		{
			name: "both list and contract",
			spec: `{"engine": {"authorityRound": {"params": {"validators": {
				"0": {
					"list": ["0x1111111111111111111111111111111111111111"],
					"contract": "0x2222222222222222222222222222222222222222"
				}
			}}}}}`,
		},
		{
			name: "non-numeric key",
			spec: `{"engine": {"authorityRound": {"params": {"validators": {
				"genesis": {"list": ["0x1111111111111111111111111111111111111111"]}
			}}}}}`,
		},
		{
			name: "not json",
			spec: `so long and thanks for all the fish`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValidatorDefinitionRanges([]byte(tt.spec))
			require.Error(t, err)
		})
	}
}
