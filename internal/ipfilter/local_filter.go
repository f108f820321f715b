package ipfilter

import (
	"context"
	"net/netip"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/iprange"
)

const localFilterName = "LocalFilter"

// LocalFilter layers the operator's ip_filter lists and supplemental block
// sources over a delegate. An explicit allow overrides every block, including
// the delegate's.
type LocalFilter struct {
	delegate Filter
	live     *live[lists]
}

func NewLocalFilter(delegate Filter, provider *config.Provider, sources []Source, opts Options) *LocalFilter {
	merger := newSourceMerger(localFilterName, sources, opts.Observer)
	build := func(ctx context.Context) (*lists, error) {
		cfg := provider.Current()
		blocked := iprange.NewSet(cfg.IPFilter.Blocked...)
		merger.merge(ctx, blocked.Add)
		return &lists{blocked: blocked, allowed: iprange.NewSet(cfg.IPFilter.Allowed...)}, nil
	}
	return &LocalFilter{
		delegate: delegate,
		live:     newLive(localFilterName, newLists(nil, nil), build, opts),
	}
}

func (f *LocalFilter) AllowIP(ip netip.Addr) bool {
	s := f.live.load()
	if s.allowed.ContainsAddr(ip) {
		return true
	}
	if s.blocked.ContainsAddr(ip) {
		return false
	}
	return f.delegate == nil || f.delegate.AllowIP(ip)
}

func (f *LocalFilter) Refresh() { f.RefreshWithCallback(nil) }

// RefreshWithCallback rebuilds the delegate and this filter; onDone runs after both.
func (f *LocalFilter) RefreshWithCallback(onDone func()) {
	if f.delegate == nil {
		f.live.refresh(onDone)
		return
	}
	done := afterAll(2, onDone)
	f.delegate.RefreshWithCallback(done)
	f.live.refresh(done)
}

func (f *LocalFilter) HasBlockedEntries() bool {
	if f.live.load().blocked.Len() > 0 {
		return true
	}
	return f.delegate != nil && f.delegate.HasBlockedEntries()
}
