package common

import (
	"strconv"
	"strings"
	"time"
)

// StepDuration is the length of one Aura step. The chain produces at most one
// block per step, at timestamp step*StepDuration.
const StepDuration = 5 * time.Second

// StepToTime converts a step number to the UTC wall-clock time of its slot.
func StepToTime(step uint64) time.Time {
	return time.Unix(int64(step)*int64(StepDuration/time.Second), 0).UTC()
}

// TimestampToStep converts a block timestamp in seconds to its step number.
func TimestampToStep(timestamp uint64) uint64 {
	return timestamp / uint64(StepDuration/time.Second)
}

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := *val
	base := 10

	if strings.HasPrefix(str, "0x") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
