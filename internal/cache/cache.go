package cache

import "go-branch-transfer/internal/model"

// TransferStatsCache keeps recomputed transfer aggregates warm between
// requests. Implementations must treat misses as cheap; the service always
// falls back to recomputing.
type TransferStatsCache interface {
	Get(key string) (*model.TransferStats, bool)
	Set(key string, stats *model.TransferStats)
	Invalidate()
}

// NoopTransferStatsCache disables caching. Used when no redis address is
// configured and in tests.
type NoopTransferStatsCache struct{}

func (NoopTransferStatsCache) Get(string) (*model.TransferStats, bool) { return nil, false }
func (NoopTransferStatsCache) Set(string, *model.TransferStats)        {}
func (NoopTransferStatsCache) Invalidate()                             {}
