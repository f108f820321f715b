package policy

import (
	"strings"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	hashQueryFilterName = "HashQueryFilter"
)

// HashQueryFilter rejects queries that look up content by URN only.
type HashQueryFilter struct {
	enabled bool
}

func NewHashQueryFilter(cfg *config.HashQueryFilterConfig) (*HashQueryFilter, error) {
	return &HashQueryFilter{enabled: cfg.Enabled}, nil
}

func (f *HashQueryFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(hashQueryFilterName)

	if !f.enabled {
		return newResult(true, "filter_disabled")
	}
	if msg.Kind != message.KindQuery {
		return newResult(true, "kind_not_checked")
	}
	if msg.Query == nil {
		return newResult(false, "missing_query_payload")
	}
	if len(msg.Query.URNs) > 0 && strings.TrimSpace(msg.Query.Text) == "" {
		return newResult(false, "urn_only_query")
	}
	return newResult(true, "query_has_text")
}
