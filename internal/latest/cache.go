// Package latest keeps the most recently received measurement per key and
// serves it as a substitute for frames missing that key.
package latest

import (
	"encoding/binary"
	"sync"
	"time"

	"codeberg.org/mutker/framealign/internal/measurement"
	"codeberg.org/mutker/framealign/internal/realtime"
	"github.com/spaolacci/murmur3"
)

const defaultShards = 16

// Entry is the cached state for one key.
type Entry struct {
	Measurement measurement.Measurement
	ReceivedAt  measurement.Ticks
}

type shard struct {
	mu      sync.RWMutex
	entries map[measurement.Key]Entry
}

// Cache is safe for concurrent use. Updates for one key win by arrival
// order, not by measurement timestamp.
type Cache struct {
	shards []*shard
	clock  realtime.Clock
}

type Option func(*Cache)

// WithShards sets the number of lock shards. Values below one are ignored.
func WithShards(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.shards = make([]*shard, n)
		}
	}
}

// WithClock sets the clock used to stamp receipt times.
func WithClock(clock realtime.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		shards: make([]*shard, defaultShards),
		clock:  realtime.SystemClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[measurement.Key]Entry)}
	}

	return c
}

func (c *Cache) shardFor(key measurement.Key) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	buf := make([]byte, 8, 8+len(key.Source))
	binary.LittleEndian.PutUint64(buf, key.ID)
	buf = append(buf, key.Source...)

	return c.shards[murmur3.Sum32(buf)%uint32(len(c.shards))]
}

// Update stores m as the latest value for its key.
func (c *Cache) Update(m measurement.Measurement) {
	received := measurement.FromTime(c.clock.Now())
	s := c.shardFor(m.Key)

	s.mu.Lock()
	s.entries[m.Key] = Entry{Measurement: m, ReceivedAt: received}
	s.mu.Unlock()
}

// Entry returns the raw cached entry for key.
func (c *Cache) Entry(key measurement.Key) (Entry, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	return e, ok
}

// Get returns the cached value for key if its timestamp lies within
// [asOf-lag, asOf+lead].
func (c *Cache) Get(key measurement.Key, asOf measurement.Ticks, lag, lead time.Duration) (measurement.Measurement, bool) {
	e, ok := c.Entry(key)
	if !ok {
		return measurement.Measurement{}, false
	}

	ts := e.Measurement.Timestamp
	if ts < asOf-measurement.FromDuration(lag) || ts > asOf+measurement.FromDuration(lead) {
		return measurement.Measurement{}, false
	}

	return e.Measurement, true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[measurement.Key]Entry)
		s.mu.Unlock()
	}
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}

	return n
}

// Keys returns every cached key in no particular order.
func (c *Cache) Keys() []measurement.Key {
	keys := make([]measurement.Key, 0, c.Len())
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}

	return keys
}
