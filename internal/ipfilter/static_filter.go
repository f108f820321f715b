package ipfilter

import (
	"context"
	"net/netip"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/iprange"
)

const (
	staticFilterName  = "StaticFilter"
	hostileFilterName = "HostileFilter"
)

// ListFunc selects the blocked and allowed entries a StaticFilter uses from a configuration.
type ListFunc func(cfg *config.Config) (blocked, allowed []string)

// FixedLists ignores the configuration and always yields the given entries.
func FixedLists(blocked, allowed []string) ListFunc {
	return func(*config.Config) ([]string, []string) { return blocked, allowed }
}

type lists struct {
	blocked *iprange.Set
	allowed *iprange.Set
}

func newLists(blocked, allowed []string) *lists {
	return &lists{blocked: iprange.NewSet(blocked...), allowed: iprange.NewSet(allowed...)}
}

// StaticFilter allows an address if it is explicitly allowed or not blocked.
type StaticFilter struct {
	live *live[lists]
}

func NewStaticFilter(provider *config.Provider, fn ListFunc, opts Options) *StaticFilter {
	return newStaticFilter(staticFilterName, provider, fn, opts)
}

func newStaticFilter(name string, provider *config.Provider, fn ListFunc, opts Options) *StaticFilter {
	build := func(ctx context.Context) (*lists, error) {
		blocked, allowed := fn(provider.Current())
		return newLists(blocked, allowed), nil
	}
	return &StaticFilter{live: newLive(name, newLists(nil, nil), build, opts)}
}

func (f *StaticFilter) AllowIP(ip netip.Addr) bool {
	s := f.live.load()
	return s.allowed.ContainsAddr(ip) || !s.blocked.ContainsAddr(ip)
}

func (f *StaticFilter) Refresh() { f.live.refresh(nil) }

func (f *StaticFilter) RefreshWithCallback(onDone func()) { f.live.refresh(onDone) }

func (f *StaticFilter) HasBlockedEntries() bool { return f.live.load().blocked.Len() > 0 }

// HostileFilter blocks the curated hostile list. When disabled it allows everything.
type HostileFilter struct {
	*StaticFilter
}

func NewHostileFilter(provider *config.Provider, opts Options) *HostileFilter {
	fn := func(cfg *config.Config) ([]string, []string) {
		if !cfg.IPFilter.Hostile.Enabled {
			return nil, nil
		}
		return cfg.IPFilter.Hostile.Blocked, nil
	}
	return &HostileFilter{StaticFilter: newStaticFilter(hostileFilterName, provider, fn, opts)}
}
