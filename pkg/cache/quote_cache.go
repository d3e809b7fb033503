package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote source labels, recorded with each price so consumers can tell a
// validation-time close from an agent-reported execution price.
const (
	SourceValidation = "validation"
	SourceExecution  = "execution"
)

// QuoteCache holds the last observed price per symbol, sharded to keep
// contention low when validation and execution feedback write concurrently.
type QuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	price     float64
	source    string
	updatedAt time.Time
}

// Quote is the exported view of a cached price.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]quoteEntry),
		}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest price for a symbol with its source label.
func (c *QuoteCache) Set(symbol string, price float64, source string) {
	if symbol == "" || price <= 0 {
		return
	}
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = quoteEntry{
		price:     price,
		source:    source,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get retrieves the last price for a symbol.
func (c *QuoteCache) Get(symbol string) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves the last price and how stale it is.
func (c *QuoteCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Len returns total cached symbols across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes quotes older than maxAge and reports how many were dropped.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Snapshot returns all cached quotes (for the admin surface).
func (c *QuoteCache) Snapshot() []Quote {
	var out []Quote
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			out = append(out, Quote{
				Symbol:    sym,
				Price:     entry.price,
				Source:    entry.source,
				UpdatedAt: entry.updatedAt,
			})
		}
		shard.mu.RUnlock()
	}
	return out
}
