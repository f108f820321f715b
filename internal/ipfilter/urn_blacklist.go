package ipfilter

import (
	"context"
	"log/slog"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const urnBlacklistName = "URNBlacklist"

type urnSet struct {
	enabled bool
	urns    map[string]struct{}
}

// URNBlacklist holds the blacklisted SHA1 URNs from urn_blacklist.blocked and
// its sources. Entries that are not SHA1 URNs are skipped.
type URNBlacklist struct {
	live *live[urnSet]
}

func NewURNBlacklist(provider *config.Provider, sources []Source, opts Options) *URNBlacklist {
	merger := newSourceMerger(urnBlacklistName, sources, opts.Observer)
	build := func(ctx context.Context) (*urnSet, error) {
		cfg := provider.Current().URNs
		if !cfg.Enabled {
			return &urnSet{}, nil
		}
		set := &urnSet{enabled: true, urns: make(map[string]struct{})}
		add := func(entry string) bool {
			urn, ok := message.NormalizeSHA1URN(entry)
			if !ok {
				slog.Debug("Skipping malformed URN", "entry", entry)
				return false
			}
			if _, dup := set.urns[urn]; dup {
				return false
			}
			set.urns[urn] = struct{}{}
			return true
		}
		for _, e := range cfg.Blocked {
			add(e)
		}
		merger.merge(ctx, add)
		return set, nil
	}
	return &URNBlacklist{live: newLive(urnBlacklistName, &urnSet{}, build, opts)}
}

// BlockedURN expects the canonical form returned by message.NormalizeSHA1URN.
func (b *URNBlacklist) BlockedURN(urn string) bool {
	_, found := b.live.load().urns[urn]
	return found
}

// Enabled reports whether the current snapshot was built with the blacklist turned on.
func (b *URNBlacklist) Enabled() bool { return b.live.load().enabled }

func (b *URNBlacklist) Len() int { return len(b.live.load().urns) }

func (b *URNBlacklist) Refresh() { b.RefreshWithCallback(nil) }

func (b *URNBlacklist) RefreshWithCallback(onDone func()) { b.live.refresh(onDone) }
