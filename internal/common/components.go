package common

const (
	ComponentApp           = "app"
	ComponentBlockFetcher  = "block-fetcher"
	ComponentEpochFetcher  = "epoch-fetcher"
	ComponentSkipReporter  = "skip-reporter"
	ComponentOffline       = "offline-reporter"
	ComponentEquivocation  = "equivocation-reporter"
	ComponentBlockStore    = "block-store"
	ComponentRPC           = "rpc"
)

var AllComponents = map[string]struct{}{
	ComponentApp:          {},
	ComponentBlockFetcher: {},
	ComponentEpochFetcher: {},
	ComponentSkipReporter: {},
	ComponentOffline:      {},
	ComponentEquivocation: {},
	ComponentBlockStore:   {},
	ComponentRPC:          {},
}
