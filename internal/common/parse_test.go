package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUint64orHex(t *testing.T) {
	tests := []struct {
		name     string
		input    *string
		expected uint64
		wantErr  bool
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: 0,
		},
		{
			name:     "decimal",
			input:    strPtr("12345"),
			expected: 12345,
		},
		{
			name:     "hex",
			input:    strPtr("0x3039"),
			expected: 12345,
		},
		{
			name:    "garbage",
			input:   strPtr("not-a-number"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint64orHex(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func strPtr(s string) *string {
	return &s
}

func TestStepToTime(t *testing.T) {
	ts := StepToTime(100)
	assert.Equal(t, time.Unix(500, 0).UTC(), ts)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestTimestampToStep(t *testing.T) {
	assert.Equal(t, uint64(100), TimestampToStep(500))
	assert.Equal(t, uint64(100), TimestampToStep(504))
	assert.Equal(t, uint64(101), TimestampToStep(505))
}

func TestToLowerWithTrim(t *testing.T) {
	assert.Equal(t, "wal", ToLowerWithTrim("  WAL "))
}
