package engine

import (
	"sync"
	"time"
)

// Cooldown tracks, per camera and alert type, when an alert was last
// emitted so repeated findings inside the window stay silent.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(key string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

// muteSet holds per-key mute deadlines. Expired entries are dropped
// lazily on lookup.
type muteSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newMuteSet() *muteSet {
	return &muteSet{until: make(map[string]time.Time)}
}

func (m *muteSet) Set(key string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[key] = until
}

func (m *muteSet) Active(key string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.until[key]
	if !ok {
		return false
	}
	if !now.Before(ts) {
		delete(m.until, key)
		return false
	}
	return true
}
