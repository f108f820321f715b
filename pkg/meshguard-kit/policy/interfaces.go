package policy

import (
	"time"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

// FilterResult is the structured return type for all filters.
type FilterResult struct {
	Allowed  bool
	Filter   string
	Reason   string
	Duration time.Duration
}

// Filter is the interface that all kit filters must implement.
//
// Match must not modify the message, block, or perform I/O. Stateful filters
// are owned by a single goroutine at a time and learn only from the messages
// they actually see.
type Filter interface {
	Match(msg *message.Message) FilterResult
}

// DropCounter receives one increment per rejection. prometheus.Counter satisfies it.
type DropCounter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// NewResultFunc returns a helper function for creating FilterResult objects.
func NewResultFunc(filterName string) func(allowed bool, reason string) FilterResult {
	start := time.Now()
	return func(allowed bool, reason string) FilterResult {
		return FilterResult{
			Allowed:  allowed,
			Filter:   filterName,
			Reason:   reason,
			Duration: time.Since(start),
		}
	}
}
