package policy

import (
	"sync"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	watchedKeywordFilterName = "WatchedKeywordFilter"
)

// GUIDSet is a concurrent set of query GUIDs. Searches add their GUID when
// they start and remove it when they stop.
type GUIDSet struct {
	mu   sync.RWMutex
	guid map[message.GUID]struct{}
}

func NewGUIDSet() *GUIDSet {
	return &GUIDSet{guid: make(map[message.GUID]struct{})}
}

func (s *GUIDSet) Add(g message.GUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guid[g] = struct{}{}
}

// Remove reports whether g was present.
func (s *GUIDSet) Remove(g message.GUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guid[g]
	delete(s.guid, g)
	return ok
}

func (s *GUIDSet) Contains(g message.GUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.guid[g]
	return ok
}

func (s *GUIDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.guid)
}

// WatchedKeywordFilter runs a keyword check on replies to watched searches only.
type WatchedKeywordFilter struct {
	watched  *GUIDSet
	keywords *KeywordFilter
}

func NewWatchedKeywordFilter(cfg *config.KeywordFilterConfig, watched *GUIDSet) (*WatchedKeywordFilter, error) {
	keywords, err := NewKeywordFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &WatchedKeywordFilter{watched: watched, keywords: keywords}, nil
}

func (f *WatchedKeywordFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(watchedKeywordFilterName)

	if msg.Kind != message.KindQueryReply {
		return newResult(true, "kind_not_checked")
	}
	if f.watched == nil || !f.watched.Contains(msg.GUID) {
		return newResult(true, "guid_not_watched")
	}
	if res := f.keywords.Match(msg); !res.Allowed {
		return newResult(false, res.Reason)
	}
	return newResult(true, "no_forbidden_patterns_found")
}
