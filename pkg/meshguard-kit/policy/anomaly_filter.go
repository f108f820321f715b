package policy

import (
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	anomalyFilterName = "AnomalousQueryFilter"
)

// AnomalousQueryFilter rejects queries whose GUID prefix accounts for an
// outsized share of recent query traffic. Out-of-band queries and queries
// carrying speed flags are exempt, because legitimate out-of-band routing
// reuses a stable prefix. Not safe for concurrent use.
type AnomalousQueryFilter struct {
	enabled   bool
	capacity  int
	threshold float64
	counts    *simplelru.LRU[uint32, int]
	total     int
}

func NewAnomalousQueryFilter(cfg *config.AnomalyFilterConfig) (*AnomalousQueryFilter, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = config.DefaultAnomalyCapacity
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = config.DefaultAnomalyThreshold
	}
	if threshold > 1 {
		return nil, fmt.Errorf("anomaly threshold must be in (0, 1], got %f", threshold)
	}

	f := &AnomalousQueryFilter{
		enabled:   cfg.Enabled,
		capacity:  capacity,
		threshold: threshold,
	}
	counts, err := simplelru.NewLRU[uint32, int](capacity, f.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create prefix cache: %w", err)
	}
	f.counts = counts
	return f, nil
}

func (f *AnomalousQueryFilter) onEvict(_ uint32, count int) {
	f.total -= count
}

func (f *AnomalousQueryFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(anomalyFilterName)

	if !f.enabled {
		return newResult(true, "filter_disabled")
	}
	if msg.Kind != message.KindQuery {
		return newResult(true, "kind_not_checked")
	}
	if msg.Query == nil {
		return newResult(false, "missing_query_payload")
	}

	prefix := msg.GUID.Prefix()
	count, _ := f.counts.Get(prefix)
	count++
	f.counts.Add(prefix, count)
	f.total++

	if f.total < f.capacity {
		return newResult(true, "not_enough_samples")
	}
	if float64(count) <= f.threshold*float64(f.total) {
		return newResult(true, "prefix_share_ok")
	}
	if msg.Query.OutOfBand || msg.Query.HasSpeedFlags() {
		return newResult(true, "prefix_exempt")
	}
	return newResult(false, fmt.Sprintf("anomalous_guid_prefix:%08x", prefix))
}

// Total is the number of counted queries currently attributed to tracked prefixes.
func (f *AnomalousQueryFilter) Total() int { return f.total }
