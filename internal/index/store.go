// ABOUTME: BadgerDB storage for indexed sample summaries and ruleset membership
// ABOUTME: Keys apk:<sha256> hold JSON entries; ruleset:<id>:<sha256> mark membership

package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

const (
	apkPrefix     = "apk:"
	rulesetPrefix = "ruleset:"
)

// StoreConfig holds configuration for the BadgerDB store.
type StoreConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	SyncWrites bool

	// Logger for BadgerDB internals; nil silences them.
	Logger badger.Logger
}

// Entry is an indexed sample.
type Entry struct {
	APK       koodous.APK `json:"apk"`
	Rulesets  []int64     `json:"rulesets,omitempty"`
	IndexedAt time.Time   `json:"indexed_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StoreStats contains statistics about the store.
type StoreStats struct {
	Samples     int64           `json:"samples"`
	Memberships int64           `json:"memberships"`
	Rulesets    map[int64]int64 `json:"rulesets"`
	SizeBytes   int64           `json:"size_bytes"`
}

// Store wraps BadgerDB for sample storage.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore opens a BadgerDB store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func apkKey(sha256 string) []byte { return []byte(apkPrefix + sha256) }

func membershipKey(rulesetID int64, sha256 string) []byte {
	return []byte(rulesetPrefix + strconv.FormatInt(rulesetID, 10) + ":" + sha256)
}

// Put upserts samples in one transaction and links them to rulesetID when it
// is positive. It returns the digests that were new to the ruleset, or new
// to the store when rulesetID is not positive. Samples with malformed
// digests are skipped.
func (s *Store) Put(ctx context.Context, rulesetID int64, apks []koodous.APK) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var added []string
	now := s.now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, apk := range apks {
			sha, err := koodous.ParseSHA256(apk.SHA256)
			if err != nil {
				continue
			}
			apk.SHA256 = sha

			if rulesetID > 0 {
				if _, err := txn.Get(membershipKey(rulesetID, sha)); err == nil {
					continue
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("failed to read membership %s: %w", sha, err)
				}
			}

			entry, err := getEntry(txn, sha)
			if err != nil {
				return err
			}
			isNew := entry == nil
			if isNew {
				entry = &Entry{IndexedAt: now}
			}
			entry.APK = apk
			entry.UpdatedAt = now

			if rulesetID > 0 {
				if !slices.Contains(entry.Rulesets, rulesetID) {
					entry.Rulesets = append(entry.Rulesets, rulesetID)
					slices.Sort(entry.Rulesets)
				}
				if err := txn.Set(membershipKey(rulesetID, sha), nil); err != nil {
					return fmt.Errorf("failed to set membership %s: %w", sha, err)
				}
			}

			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal entry: %w", err)
			}
			if err := txn.Set(apkKey(sha), data); err != nil {
				return fmt.Errorf("failed to set key %s: %w", sha, err)
			}

			if rulesetID > 0 || isNew {
				added = append(added, sha)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func getEntry(txn *badger.Txn, sha256 string) (*Entry, error) {
	item, err := txn.Get(apkKey(sha256))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", sha256, err)
	}

	var entry Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", sha256, err)
	}
	return &entry, nil
}

// Get returns the entry for sha256, or nil when it is not indexed.
func (s *Store) Get(ctx context.Context, sha256 string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, sha256)
		return err
	})
	return entry, err
}

// Has reports whether sha256 is stored.
func (s *Store) Has(sha256 string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(apkKey(sha256))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsMember reports whether sha256 is linked to rulesetID.
func (s *Store) IsMember(rulesetID int64, sha256 string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(membershipKey(rulesetID, sha256))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IterateSHA256 calls fn for every stored digest in key order.
func (s *Store) IterateSHA256(ctx context.Context, fn func(sha256 string) error) error {
	return s.iterateKeys(ctx, apkPrefix, func(rest string) error { return fn(rest) })
}

func (s *Store) iterateKeys(ctx context.Context, prefix string, fn func(rest string) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(strings.TrimPrefix(string(it.Item().Key()), prefix)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats counts samples and memberships.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{Rulesets: make(map[int64]int64)}

	err := s.iterateKeys(ctx, apkPrefix, func(string) error {
		stats.Samples++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}

	err = s.iterateKeys(ctx, rulesetPrefix, func(rest string) error {
		idPart, _, ok := strings.Cut(rest, ":")
		if !ok {
			return nil
		}
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			return nil
		}
		stats.Memberships++
		stats.Rulesets[id]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count memberships: %w", err)
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = lsm + vlog

	return stats, nil
}
