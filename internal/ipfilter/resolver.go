package ipfilter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"net/netip"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/iprange"
)

type countryRange struct {
	r    iprange.Range
	code string
}

// RangeResolver answers country lookups from an in-memory range table. The
// narrowest range containing the address wins.
type RangeResolver struct {
	ranges []countryRange
}

// LoadRangeResolver reads a CSV table of "range,country" rows. Lines starting
// with '#' are comments.
func LoadRangeResolver(path string) (*RangeResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRangeResolver(f)
}

func ParseRangeResolver(r io.Reader) (*RangeResolver, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	res := &RangeResolver{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("geo table: %w", err)
		}
		rng, err := iprange.Parse(record[0])
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("geo table line %d: %w", line, err)
		}
		code := strings.ToUpper(strings.TrimSpace(record[1]))
		if len(code) != 2 {
			line, _ := reader.FieldPos(1)
			return nil, fmt.Errorf("geo table line %d: invalid country code %q", line, record[1])
		}
		res.ranges = append(res.ranges, countryRange{r: rng, code: code})
	}
	return res, nil
}

func (r *RangeResolver) Len() int { return len(r.ranges) }

// Country returns "" for addresses outside every range, including all non-IPv4 addresses.
func (r *RangeResolver) Country(ip netip.Addr) (string, error) {
	target, ok := iprange.FromAddr(ip)
	if !ok {
		return "", nil
	}
	best, bestBits := "", -1
	for _, cr := range r.ranges {
		if !cr.r.Contains(target) {
			continue
		}
		if n := bits.OnesCount32(cr.r.Mask()); n > bestBits {
			best, bestBits = cr.code, n
		}
	}
	return best, nil
}

// CachedResolver memoizes another resolver's answers for a bounded time.
// Concurrent misses for one address share a single lookup.
type CachedResolver struct {
	next  CountryResolver
	cache *lru.LRU[netip.Addr, string]
	sf    singleflight.Group
}

func NewCachedResolver(next CountryResolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: lru.NewLRU[netip.Addr, string](size, nil, ttl),
	}
}

func (c *CachedResolver) Country(ip netip.Addr) (string, error) {
	ip = ip.Unmap()
	if code, ok := c.cache.Get(ip); ok {
		return code, nil
	}

	v, err, _ := c.sf.Do(ip.String(), func() (any, error) {
		if code, ok := c.cache.Get(ip); ok {
			return code, nil
		}
		code, err := c.next.Country(ip)
		if err != nil {
			return "", err
		}
		c.cache.Add(ip, code)
		return code, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// OpenResolver loads the CSV table at cfg.DatabasePath, cached when cfg.CacheSize is positive.
func OpenResolver(cfg *config.GeoFilterConfig) (CountryResolver, error) {
	table, err := LoadRangeResolver(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return table, nil
	}
	return NewCachedResolver(table, cfg.CacheSize, cfg.CacheTTL), nil
}
