package config

const (
	DefaultAnomalyCapacity  = 100
	DefaultAnomalyThreshold = 0.25
)

type DuplicateFilterConfig struct {
	Enabled bool `toml:"enabled"`
}

type HashQueryFilterConfig struct {
	Enabled bool `toml:"enabled"`
}

type AnomalyFilterConfig struct {
	Enabled bool `toml:"enabled"`
	// Capacity bounds the number of tracked GUID prefixes and is also the
	// minimum number of counted queries before anything is rejected.
	Capacity int `toml:"capacity"`
	// Threshold is the share of all counted queries a single prefix may reach.
	Threshold float64 `toml:"threshold"`
}

type RepetitiveFilterConfig struct {
	// Capacity is the number of recent query strings remembered. 0 disables the filter.
	Capacity int `toml:"capacity"`
}

type KeywordFilterConfig struct {
	Enabled bool     `toml:"enabled"`
	Words   []string `toml:"words"`
	Regexps []string `toml:"regexps"`
}
