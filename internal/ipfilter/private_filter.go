package ipfilter

import (
	"context"
	"net/netip"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/iprange"
)

const privateFilterName = "PrivateNetworkFilter"

var privateRanges = iprange.NewSet(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
)

type privateMode struct {
	enabled bool
}

// PrivateNetworkFilter restricts traffic to private and loopback IPv4 ranges
// while ip_filter.private.enabled is set.
type PrivateNetworkFilter struct {
	live *live[privateMode]
}

func NewPrivateNetworkFilter(provider *config.Provider, opts Options) *PrivateNetworkFilter {
	build := func(ctx context.Context) (*privateMode, error) {
		return &privateMode{enabled: provider.Current().IPFilter.Private.Enabled}, nil
	}
	return &PrivateNetworkFilter{live: newLive(privateFilterName, &privateMode{}, build, opts)}
}

func (f *PrivateNetworkFilter) AllowIP(ip netip.Addr) bool {
	if !f.live.load().enabled {
		return true
	}
	return privateRanges.ContainsAddr(ip)
}

func (f *PrivateNetworkFilter) Refresh() { f.live.refresh(nil) }

func (f *PrivateNetworkFilter) RefreshWithCallback(onDone func()) { f.live.refresh(onDone) }

func (f *PrivateNetworkFilter) HasBlockedEntries() bool { return f.live.load().enabled }
