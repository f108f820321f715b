package ipfilter

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/lessucettes/meshguard/internal/config"
)

const geoFilterName = "GeoFilter"

// CountryResolver maps an address to an ISO 3166 alpha-2 code. An empty code means unknown.
// Country is called on the message path and must answer from memory.
type CountryResolver interface {
	Country(ip netip.Addr) (string, error)
}

// OpenFunc builds the resolver for a geo configuration. It runs on the refresh path and may do I/O.
type OpenFunc func(cfg *config.GeoFilterConfig) (CountryResolver, error)

type geoSnapshot struct {
	enabled  bool
	resolver CountryResolver
	allowed  map[string]struct{}
	blocked  map[string]struct{}
}

// GeoFilter allows or denies addresses by country. Lookups that fail or
// return no country are denied.
type GeoFilter struct {
	live *live[geoSnapshot]
}

func NewGeoFilter(provider *config.Provider, open OpenFunc, opts Options) *GeoFilter {
	if open == nil {
		open = OpenResolver
	}
	build := func(ctx context.Context) (*geoSnapshot, error) {
		geo := provider.Current().IPFilter.Geo
		if !geo.Enabled {
			return &geoSnapshot{}, nil
		}
		resolver, err := open(&geo)
		if err != nil {
			return nil, fmt.Errorf("open geo database: %w", err)
		}
		return &geoSnapshot{
			enabled:  true,
			resolver: resolver,
			allowed:  countrySet(geo.AllowedCountries),
			blocked:  countrySet(geo.BlockedCountries),
		}, nil
	}
	return &GeoFilter{live: newLive(geoFilterName, &geoSnapshot{}, build, opts)}
}

func countrySet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}

func (f *GeoFilter) AllowIP(ip netip.Addr) bool {
	s := f.live.load()
	if !s.enabled {
		return true
	}

	code, err := s.resolver.Country(ip)
	if err != nil {
		slog.Debug("Country lookup failed", "ip", ip, "error", err)
		return false
	}
	code = strings.ToUpper(code)
	if code == "" {
		return false
	}
	if _, ok := s.blocked[code]; ok {
		return false
	}
	if len(s.allowed) > 0 {
		_, ok := s.allowed[code]
		return ok
	}
	return true
}

func (f *GeoFilter) Refresh() { f.live.refresh(nil) }

func (f *GeoFilter) RefreshWithCallback(onDone func()) { f.live.refresh(onDone) }

func (f *GeoFilter) HasBlockedEntries() bool {
	s := f.live.load()
	return s.enabled && (len(s.blocked) > 0 || len(s.allowed) > 0)
}
