// Package hostcache keeps the servers found by a LAN search.
package hostcache

import (
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config for the cache.
type Config struct {
	Size int `yaml:"size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Size: 8}
}

// Entry is one discovered server.
type Entry struct {
	Name     string
	Map      string
	CName    string // address as the server reported it
	Addr     netip.AddrPort
	Driver   string
	Users    int
	MaxUsers int
	Version  int
	SeenAt   time.Time
}

// Cache is a bounded list of servers, unique by address.
type Cache struct {
	config  Config
	entries []Entry
	mu      sync.RWMutex
}

// New creates an empty cache.
func New(config Config) *Cache {
	if config.Size <= 0 {
		config.Size = DefaultConfig().Size
	}
	return &Cache{config: config}
}

// Add stores e. A server already cached under the same address is kept
// as is. A name already used by another server gets a numeric suffix.
func (c *Cache) Add(e Entry) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, old := range c.entries {
		if old.Addr == e.Addr {
			return old, ErrDuplicate
		}
	}
	if len(c.entries) >= c.config.Size {
		return Entry{}, ErrCacheFull
	}

	e.Name = c.uniqueName(e.Name)
	c.entries = append(c.entries, e)
	return e, nil
}

func (c *Cache) uniqueName(name string) string {
	candidate := name
	for n := 2; c.nameTaken(candidate); n++ {
		candidate = name + "#" + strconv.Itoa(n)
	}
	return candidate
}

func (c *Cache) nameTaken(name string) bool {
	for _, e := range c.entries {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

// Get returns the entry for addr.
func (c *Cache) Get(addr netip.AddrPort) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Addr == addr {
			return e, true
		}
	}
	return Entry{}, false
}

// Lookup finds an entry by its (possibly suffixed) name.
func (c *Cache) Lookup(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns the cached servers in discovery order.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// Count returns the number of cached servers.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear forgets every server.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = c.entries[:0]
}
