package ipfilter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Source supplies extra blocked entries to a LocalFilter on every rebuild.
type Source interface {
	Name() string
	Entries(ctx context.Context) ([]string, error)
}

// FileSource reads a downloaded list, one entry per line. The first successful
// read is kept for the life of the process; a failed read is retried on the
// next call, so a list that is downloaded after startup is still picked up.
type FileSource struct {
	name string
	path string

	mu      sync.Mutex
	entries []string
	loaded  bool
}

// NewFileSource names the source after origin, the feed the file was fetched from, when set.
func NewFileSource(path, origin string) *FileSource {
	name := "file:" + path
	if origin != "" {
		name = origin + " (" + path + ")"
	}
	return &FileSource{name: name, path: path}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Entries(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.entries, nil
	}
	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	s.entries, s.loaded = entries, true
	return entries, nil
}

func (s *FileSource) read() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return entries, nil
}

// BanLister is the part of the ban store a StoreSource needs.
type BanLister interface {
	BannedRanges(ctx context.Context) ([]string, error)
}

// StoreSource reads the operator's unexpired bans on every rebuild.
type StoreSource struct {
	store BanLister
}

func NewStoreSource(store BanLister) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Name() string { return "ban_store" }

func (s *StoreSource) Entries(ctx context.Context) ([]string, error) {
	return s.store.BannedRanges(ctx)
}

// sourceMerger adds source entries to a snapshot under construction. A source
// that fails contributes the entries of its last successful read, so one
// broken feed never stops the rest of the rebuild. Callers serialize merge.
type sourceMerger struct {
	owner    string
	sources  []Source
	observer RefreshObserver
	lastGood map[string][]string
}

func newSourceMerger(owner string, sources []Source, observer RefreshObserver) *sourceMerger {
	return &sourceMerger{owner: owner, sources: sources, observer: observer, lastGood: make(map[string][]string)}
}

func (m *sourceMerger) merge(ctx context.Context, add func(entry string) bool) {
	for _, src := range m.sources {
		entries, err := src.Entries(ctx)
		if m.observer != nil {
			m.observer.ObserveRefresh(m.owner+"/"+src.Name(), err)
		}
		if err != nil {
			entries = m.lastGood[src.Name()]
			slog.Error("Supplement source failed, using its last good entries",
				"filter", m.owner, "source", src.Name(), "entries", len(entries), "error", err)
		} else {
			m.lastGood[src.Name()] = entries
		}

		added := 0
		for _, e := range entries {
			if add(e) {
				added++
			}
		}
		slog.Debug("Merged supplemental entries", "filter", m.owner, "source", src.Name(), "entries", len(entries), "added", added)
	}
}
