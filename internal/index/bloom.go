// ABOUTME: Bloom filter front for the sample index with atomic rebuilds
// ABOUTME: Thread-safe probabilistic filter that rejects unknown digests without touching disk

package index

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomConfig holds configuration for the Bloom filter.
type BloomConfig struct {
	// Expected number of samples.
	ExpectedItems uint

	// Desired false positive rate, e.g. 0.001 for 0.1%.
	FalsePositiveRate float64
}

// DefaultBloomConfig sizes the filter for a few ruleset syncs worth of samples.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		ExpectedItems:     100_000,
		FalsePositiveRate: 0.001,
	}
}

// BloomStats contains statistics about the Bloom filter.
type BloomStats struct {
	Capacity          uint    `json:"capacity"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	BitSetSize        uint64  `json:"bitset_bytes"`
	HashFunctions     uint    `json:"hash_functions"`
}

// BloomFilter wraps a Bloom filter that can be rebuilt without blocking readers.
type BloomFilter struct {
	filter atomic.Pointer[bloom.BloomFilter]
	mu     sync.RWMutex
	config BloomConfig
}

// NewBloomFilter creates an empty Bloom filter.
func NewBloomFilter(cfg BloomConfig) *BloomFilter {
	if cfg.ExpectedItems == 0 || cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg = DefaultBloomConfig()
	}

	bf := &BloomFilter{config: cfg}
	bf.filter.Store(bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate))
	return bf
}

// Add records a digest.
func (bf *BloomFilter) Add(sha256 string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.Load().AddString(sha256)
}

// Test reports whether sha256 might have been added. False is definitive.
func (bf *BloomFilter) Test(sha256 string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.Load().TestString(sha256)
}

// Rebuild replaces the filter with one holding exactly the digests produced
// by each. Readers keep using the old filter until the swap.
func (bf *BloomFilter) Rebuild(each func(add func(sha256 string)) error) error {
	next := bloom.NewWithEstimates(bf.config.ExpectedItems, bf.config.FalsePositiveRate)
	if err := each(func(sha256 string) { next.AddString(sha256) }); err != nil {
		return err
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.Store(next)
	return nil
}

// Stats returns statistics about the filter.
func (bf *BloomFilter) Stats() BloomStats {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	f := bf.filter.Load()

	return BloomStats{
		Capacity:          bf.config.ExpectedItems,
		FalsePositiveRate: bf.config.FalsePositiveRate,
		BitSetSize:        uint64(f.Cap() / 8),
		HashFunctions:     f.K(),
	}
}
