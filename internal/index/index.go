// ABOUTME: Local sample index combining the Badger store and its Bloom front
// ABOUTME: Answers "have we seen this digest" quickly and keeps ruleset membership

package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// Config configures an Index.
type Config struct {
	// Dir holds the Badger files. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	Bloom  BloomConfig
	Logger *slog.Logger
}

// Stats summarizes the index.
type Stats struct {
	Store StoreStats `json:"store"`
	Bloom BloomStats `json:"bloom"`
}

// Index is a local cache of Koodous sample summaries.
type Index struct {
	store  *Store
	bloom  *BloomFilter
	logger *slog.Logger
}

// Open opens the index and rebuilds the Bloom filter from stored digests.
func Open(ctx context.Context, cfg Config) (*Index, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := NewStore(StoreConfig{
		Path:     filepath.Join(cfg.Dir, "badger"),
		InMemory: cfg.InMemory,
	})
	if err != nil {
		return nil, err
	}

	idx := &Index{
		store:  store,
		bloom:  NewBloomFilter(cfg.Bloom),
		logger: logger,
	}

	count := 0
	err = idx.bloom.Rebuild(func(add func(string)) error {
		return store.IterateSHA256(ctx, func(sha string) error {
			add(sha)
			count++
			return nil
		})
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("rebuilding bloom filter: %w", err)
	}

	logger.DebugContext(ctx, "sample index opened", "samples", count, "in_memory", cfg.InMemory)
	return idx, nil
}

// Close releases the underlying store.
func (i *Index) Close() error {
	return i.store.Close()
}

// Put stores samples linked to rulesetID (not positive for none) and returns
// how many were new to that ruleset, or to the index when rulesetID is not
// positive.
func (i *Index) Put(ctx context.Context, rulesetID int64, apks []koodous.APK) (int, error) {
	added, err := i.store.Put(ctx, rulesetID, apks)
	if err != nil {
		return 0, err
	}
	for _, apk := range apks {
		i.bloom.Add(strings.ToLower(strings.TrimSpace(apk.SHA256)))
	}
	return len(added), nil
}

// Get returns the indexed entry for digest, or nil when it is unknown.
func (i *Index) Get(ctx context.Context, digest string) (*Entry, error) {
	sha, err := koodous.ParseSHA256(digest)
	if err != nil {
		return nil, err
	}
	if !i.bloom.Test(sha) {
		return nil, nil
	}
	return i.store.Get(ctx, sha)
}

// Contains reports whether digest is indexed. Malformed digests and store
// failures report false.
func (i *Index) Contains(digest string) bool {
	sha, err := koodous.ParseSHA256(digest)
	if err != nil || !i.bloom.Test(sha) {
		return false
	}
	ok, err := i.store.Has(sha)
	if err != nil {
		i.logger.Warn("index lookup failed", "sha256", sha, "error", err)
		return false
	}
	return ok
}

// IsMember reports whether digest is known to match rulesetID.
func (i *Index) IsMember(rulesetID int64, digest string) (bool, error) {
	sha, err := koodous.ParseSHA256(digest)
	if err != nil {
		return false, err
	}
	if !i.bloom.Test(sha) {
		return false, nil
	}
	return i.store.IsMember(rulesetID, sha)
}

// Stats returns store and filter statistics.
func (i *Index) Stats(ctx context.Context) (*Stats, error) {
	storeStats, err := i.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Store: *storeStats, Bloom: i.bloom.Stats()}, nil
}
