package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
)

const poolKey = "downwind:offline_pool"

// MemcachedPoolStore implements PoolStore backed by memcached, so the offline
// pool survives process restarts. Entries are stored without expiry; the pool
// is rating-independent and only regenerated when explicitly cleared.
type MemcachedPoolStore struct {
	client *memcache.Client
}

// NewMemcachedPoolStore creates a MemcachedPoolStore. addrs is a
// comma-separated server list (e.g. "localhost:11211"). timeout and
// maxIdleConns configure the client; both use package defaults if zero.
func NewMemcachedPoolStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedPoolStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedPoolStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements PoolStore.Get. Returns false, nil on a miss.
func (c *MemcachedPoolStore) Get() (models.PersonaPool, bool, error) {
	item, err := c.client.Get(poolKey)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	var pool models.PersonaPool
	if err := json.Unmarshal(item.Value, &pool); err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// Set implements PoolStore.Set with no expiration.
func (c *MemcachedPoolStore) Set(pool models.PersonaPool) error {
	raw, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:   poolKey,
		Value: raw,
	})
}

// Clear implements PoolStore.Clear. A miss is not an error.
func (c *MemcachedPoolStore) Clear() error {
	err := c.client.Delete(poolKey)
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedPoolStore) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedPoolStore) Close() error {
	return c.client.Close()
}
