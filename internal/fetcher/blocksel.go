package fetcher

import (
	"fmt"
	"strconv"
)

// BlockSelector picks the height of the initial block the monitor starts
// from: an absolute block number, one of the tags "latest" and "earliest",
// or a negative offset relative to the remote head.
type BlockSelector struct {
	latest   bool
	earliest bool
	offset   uint64
	number   uint64
}

// ParseBlockSelector parses a --sync-from value.
func ParseBlockSelector(s string) (*BlockSelector, error) {
	switch s {
	case "latest":
		return &BlockSelector{latest: true}, nil
	case "earliest":
		return &BlockSelector{earliest: true}, nil
	}

	number, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block selector %q: must be a block number, a negative offset, \"latest\" or \"earliest\"", s)
	}
	if number < 0 {
		return &BlockSelector{offset: uint64(-number)}, nil
	}
	return &BlockSelector{number: uint64(number)}, nil
}

// Resolve returns the selected height given the remote head.
func (s *BlockSelector) Resolve(remoteHead uint64) uint64 {
	switch {
	case s.latest:
		return remoteHead
	case s.earliest:
		return 0
	case s.offset > 0:
		if s.offset > remoteHead {
			return 0
		}
		return remoteHead - s.offset
	default:
		return s.number
	}
}
