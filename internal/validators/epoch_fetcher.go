package validators

import (
	"context"
	"fmt"

	"github.com/jannikluhn/tlbc-monitor/internal/chainspec"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/rpc"
)

// logChunkSize is the block range per eth_getLogs call when scanning
// validator contracts.
const logChunkSize = 5000

// StaticEpochs derives one epoch from each static validator definition
// range.
func StaticEpochs(ranges []chainspec.ValidatorDefinitionRange) []Epoch {
	var epochs []Epoch
	for _, r := range ranges {
		if r.IsContract {
			continue
		}
		epochs = append(epochs, Epoch{
			StartHeight: r.EnterHeight,
			Validators:  r.Validators,
		})
	}
	return epochs
}

// EpochFetcher discovers dynamic epochs by scanning the validator contracts
// of the chain spec's contract ranges for InitiateChange events. It tracks
// the height up to which it has scanned; that height bounds how far the
// block fetcher may advance, so the oracle is never asked about a height
// with unknown epochs.
type EpochFetcher struct {
	client          rpc.EthClient
	ranges          []chainspec.ValidatorDefinitionRange
	lastFetchHeight uint64
	lastEpochHeight uint64
	log             *logger.Logger
}

// NewEpochFetcher creates an epoch fetcher over the given validator
// definition ranges.
func NewEpochFetcher(client rpc.EthClient, ranges []chainspec.ValidatorDefinitionRange, log *logger.Logger) *EpochFetcher {
	return &EpochFetcher{
		client: client,
		ranges: ranges,
		log:    log.WithComponent(internalcommon.ComponentEpochFetcher),
	}
}

// LastFetchHeight returns the height up to which epochs are known.
func (f *EpochFetcher) LastFetchHeight() uint64 {
	return f.lastFetchHeight
}

// FetchNewEpochs scans all contract ranges from the last fetch height up to
// the current remote head and returns the newly discovered epochs in start
// height order. An epoch starts at the height of its InitiateChange block.
func (f *EpochFetcher) FetchNewEpochs(ctx context.Context) ([]Epoch, error) {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote head: %w", err)
	}
	if head <= f.lastFetchHeight {
		return nil, nil
	}

	var epochs []Epoch
	for _, r := range f.ranges {
		if !r.IsContract {
			continue
		}

		from := max(r.EnterHeight, f.lastFetchHeight+1)
		to := head
		if r.TransitionToHeight != chainspec.OpenEndedHeight && r.TransitionToHeight-1 < to {
			to = r.TransitionToHeight - 1
		}
		if from > to {
			continue
		}

		for chunkFrom := from; chunkFrom <= to; chunkFrom += logChunkSize {
			chunkTo := min(chunkFrom+logChunkSize-1, to)
			changes, err := f.client.InitiateChangeLogs(ctx, r.ContractAddress, chunkFrom, chunkTo)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch InitiateChange logs from %s: %w",
					r.ContractAddress.Hex(), err)
			}
			for _, change := range changes {
				epoch := Epoch{
					StartHeight: change.BlockNumber,
					Validators:  change.Validators,
				}
				// several events in one block: the last one wins
				if len(epochs) > 0 && epochs[len(epochs)-1].StartHeight == epoch.StartHeight {
					epochs[len(epochs)-1] = epoch
					continue
				}
				if epoch.StartHeight <= f.lastEpochHeight {
					f.log.Warnw("ignoring out-of-order InitiateChange event",
						"height", epoch.StartHeight,
						"last_epoch_height", f.lastEpochHeight,
					)
					continue
				}
				epochs = append(epochs, epoch)
				f.lastEpochHeight = epoch.StartHeight
				metrics.EpochsDiscovered.Inc()
			}
		}
	}

	f.lastFetchHeight = head

	if len(epochs) > 0 {
		f.log.Infow("discovered new epochs",
			"count", len(epochs),
			"first_height", epochs[0].StartHeight,
			"last_height", epochs[len(epochs)-1].StartHeight,
		)
	}
	return epochs, nil
}
