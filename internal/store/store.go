package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/iprange"
)

const banPrefix = "ban:"

// ErrNotBanned is returned by UnbanRange for entries that are not in the ban list.
var ErrNotBanned = errors.New("range is not banned")

// Store is the operator ban list of address ranges.
type Store interface {
	BanRange(ctx context.Context, entry string, duration time.Duration) error
	UnbanRange(ctx context.Context, entry string) error
	BannedRanges(ctx context.Context) ([]string, error)
	Close() error
}

// BadgerStore keeps bans in BadgerDB. Expired bans are dropped by badger's TTL.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

func NewBadgerStore(cfg *config.DBConfig) (*BadgerStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database.path is empty")
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// canonicalKey parses entry so that equivalent spellings share one key.
func canonicalKey(entry string) ([]byte, string, error) {
	r, err := iprange.Parse(entry)
	if err != nil {
		return nil, "", err
	}
	canonical := r.String()
	return []byte(banPrefix + canonical), canonical, nil
}

// BanRange adds a range to the ban list. A zero duration bans permanently.
func (s *BadgerStore) BanRange(ctx context.Context, entry string, duration time.Duration) error {
	if duration < 0 {
		return fmt.Errorf("negative ban duration %s", duration)
	}
	key, canonical, err := canonicalKey(entry)
	if err != nil {
		return err
	}
	slog.Info("Banning address range", "range", canonical, "duration", duration.String())
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, nil)
		if duration > 0 {
			e = e.WithTTL(duration)
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) UnbanRange(ctx context.Context, entry string) error {
	key, canonical, err := canonicalKey(entry)
	if err != nil {
		return err
	}
	slog.Info("Unbanning address range", "range", canonical)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", canonical, ErrNotBanned)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// BannedRanges lists every unexpired ban in key order.
func (s *BadgerStore) BannedRanges(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(banPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if item.IsDeletedOrExpired() {
				continue
			}
			out = append(out, string(item.Key()[len(banPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
