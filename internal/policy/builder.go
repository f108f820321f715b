package policy

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/internal/metrics"
	kitpolicy "github.com/lessucettes/meshguard/pkg/meshguard-kit/policy"
)

// Deps are the collaborators shared across pipeline rebuilds.
type Deps struct {
	Clock clock.Clock
	// Address is consulted for reply and push senders. Nil allows every sender.
	Address kitpolicy.AddressPolicy
	// URNs is consulted when urn_blacklist is enabled.
	URNs kitpolicy.URNPolicy
	// Watched holds the GUIDs of searches whose replies get the watched keyword check.
	Watched   *kitpolicy.GUIDSet
	Collector *metrics.Collector
	DryRun    bool
}

type filterFactory struct {
	name        string
	constructor func() (kitpolicy.Filter, error)
}

// BuildPipeline assembles both chains from cfg with fresh detector state.
//
// Route: DuplicateFilter, HashQueryFilter, URNFilter, AnomalousQueryFilter,
// RepetitiveQueryFilter, AddressFilter. Personal: AddressFilter, URNFilter,
// KeywordFilter, WatchedKeywordFilter. Filters turned off in cfg are left out.
func BuildPipeline(cfg *config.Config, deps Deps) (*Pipeline, error) {
	var (
		collector MetricsCollector
		drops     kitpolicy.DropCounter
	)
	if deps.Collector != nil {
		collector = deps.Collector
		drops = deps.Collector.RepetitiveDrops()
	}
	f := &cfg.Filters
	urnFactory := filterFactory{"URNFilter", func() (kitpolicy.Filter, error) {
		if !cfg.URNs.Enabled || deps.URNs == nil {
			return nil, nil
		}
		return kitpolicy.NewURNFilter(deps.URNs)
	}}

	routeFactories := []filterFactory{
		{"DuplicateFilter", func() (kitpolicy.Filter, error) {
			if !f.Duplicates.Enabled {
				return nil, nil
			}
			return kitpolicy.NewDuplicateFilter(&f.Duplicates, deps.Clock)
		}},
		{"HashQueryFilter", func() (kitpolicy.Filter, error) {
			if !f.HashQueries.Enabled {
				return nil, nil
			}
			return kitpolicy.NewHashQueryFilter(&f.HashQueries)
		}},
		urnFactory,
		{"AnomalousQueryFilter", func() (kitpolicy.Filter, error) {
			if !f.Anomaly.Enabled {
				return nil, nil
			}
			return kitpolicy.NewAnomalousQueryFilter(&f.Anomaly)
		}},
		{"RepetitiveQueryFilter", func() (kitpolicy.Filter, error) {
			if f.Repetitive.Capacity == 0 {
				return nil, nil
			}
			return kitpolicy.NewRepetitiveQueryFilter(&f.Repetitive, drops)
		}},
		{"AddressFilter", func() (kitpolicy.Filter, error) { return newAddressFilter(deps.Address) }},
	}

	personalFactories := []filterFactory{
		{"AddressFilter", func() (kitpolicy.Filter, error) { return newAddressFilter(deps.Address) }},
		urnFactory,
		{"KeywordFilter", func() (kitpolicy.Filter, error) {
			if !f.Keywords.Enabled {
				return nil, nil
			}
			return kitpolicy.NewKeywordFilter(&f.Keywords)
		}},
		{"WatchedKeywordFilter", func() (kitpolicy.Filter, error) {
			if !f.WatchedKeywords.Enabled {
				return nil, nil
			}
			return kitpolicy.NewWatchedKeywordFilter(&f.WatchedKeywords, deps.Watched)
		}},
	}

	route, err := buildChain(routeFactories)
	if err != nil {
		return nil, fmt.Errorf("route chain: %w", err)
	}
	personal, err := buildChain(personalFactories)
	if err != nil {
		return nil, fmt.Errorf("personal chain: %w", err)
	}

	return NewPipeline(cfg, route, personal, collector, deps.DryRun), nil
}

func newAddressFilter(p kitpolicy.AddressPolicy) (kitpolicy.Filter, error) {
	if p == nil {
		return nil, nil
	}
	return kitpolicy.NewAddressFilter(p)
}

// buildChain skips factories that return (nil, nil).
func buildChain(factories []filterFactory) (*kitpolicy.CompositeFilter, error) {
	var members []kitpolicy.Filter
	for _, factory := range factories {
		filter, err := factory.constructor()
		if err != nil {
			return nil, fmt.Errorf("failed to create filter '%s': %w", factory.name, err)
		}
		if filter != nil {
			members = append(members, filter)
		}
	}
	return kitpolicy.NewCompositeFilter(members...), nil
}
