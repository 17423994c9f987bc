package chainspec

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// OpenEndedHeight marks the exclusive end of the last validator definition
// range, which extends to infinity.
const OpenEndedHeight = uint64(math.MaxUint64)

// ValidatorDefinitionRange is a height interval [EnterHeight,
// TransitionToHeight) governed by either a static validator list or a
// validator contract whose InitiateChange events publish new lists.
type ValidatorDefinitionRange struct {
	EnterHeight        uint64
	TransitionToHeight uint64

	IsContract      bool
	ContractAddress common.Address
	Validators      []common.Address
}

// validatorDefinition mirrors one entry of the chain spec's
// engine.authorityRound.params.validators multi-map.
type validatorDefinition struct {
	List         []common.Address `json:"list"`
	SafeContract *common.Address  `json:"safeContract"`
	Contract     *common.Address  `json:"contract"`
}

type chainSpec struct {
	Engine struct {
		AuthorityRound struct {
			Params struct {
				Validators map[string]validatorDefinition `json:"validators"`
			} `json:"params"`
		} `json:"authorityRound"`
	} `json:"engine"`
}

// LoadValidatorDefinitionRanges reads a chain spec file and derives the
// ordered validator definition ranges from it. The raw file contents are
// returned alongside so callers can watch the file for changes.
func LoadValidatorDefinitionRanges(path string) ([]ValidatorDefinitionRange, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read chain spec: %w", err)
	}
	ranges, err := ParseValidatorDefinitionRanges(data)
	if err != nil {
		return nil, nil, err
	}
	return ranges, data, nil
}

// ParseValidatorDefinitionRanges parses a chain spec JSON document into
// ordered, non-overlapping validator definition ranges. The last range is
// open-ended.
func ParseValidatorDefinitionRanges(data []byte) ([]ValidatorDefinitionRange, error) {
	var spec chainSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse chain spec: %w", err)
	}

	definitions := spec.Engine.AuthorityRound.Params.Validators
	if len(definitions) == 0 {
		return nil, fmt.Errorf("chain spec defines no validators at engine.authorityRound.params.validators")
	}

	heights := make([]uint64, 0, len(definitions))
	byHeight := make(map[uint64]validatorDefinition, len(definitions))
	for key, def := range definitions {
		height, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid validator definition key %q: %w", key, err)
		}
		heights = append(heights, height)
		byHeight[height] = def
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	if heights[0] != 0 {
		return nil, fmt.Errorf("first validator definition must start at block 0, got %d", heights[0])
	}

	ranges := make([]ValidatorDefinitionRange, 0, len(heights))
	for i, height := range heights {
		def := byHeight[height]

		r := ValidatorDefinitionRange{
			EnterHeight:        height,
			TransitionToHeight: OpenEndedHeight,
		}
		if i+1 < len(heights) {
			r.TransitionToHeight = heights[i+1]
		}

		switch {
		case def.List != nil && def.SafeContract == nil && def.Contract == nil:
			if len(def.List) == 0 {
				return nil, fmt.Errorf("validator list at height %d is empty", height)
			}
			r.Validators = def.List
		case def.SafeContract != nil && def.List == nil && def.Contract == nil:
			r.IsContract = true
			r.ContractAddress = *def.SafeContract
		case def.Contract != nil && def.List == nil && def.SafeContract == nil:
			r.IsContract = true
			r.ContractAddress = *def.Contract
		default:
			return nil, fmt.Errorf(
				"validator definition at height %d must contain exactly one of list, safeContract or contract", height)
		}

		ranges = append(ranges, r)
	}

	return ranges, nil
}
