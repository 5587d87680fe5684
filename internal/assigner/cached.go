package assigner

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"calentian-mail-pipeline/internal/parser"
)

// CachedDirectory memoizes positive directory hits for a short time.
// Misses always go to the underlying directory so new CRM rows are seen
// on the next pass.
type CachedDirectory struct {
	next      Directory
	tenants   *ttlcache.Cache[string, uint]
	customers *ttlcache.Cache[string, uint]
	events    *ttlcache.Cache[uint, uint]
}

// NewCachedDirectory wraps next with a cache of the given lifetime
func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	d := &CachedDirectory{
		next:      next,
		tenants:   newCache[string](ttl),
		customers: newCache[string](ttl),
		events:    newCache[uint](ttl),
	}
	go d.tenants.Start()
	go d.customers.Start()
	go d.events.Start()
	return d
}

func newCache[K comparable](ttl time.Duration) *ttlcache.Cache[K, uint] {
	// hits must not extend the lifetime, or a moved address would never expire
	return ttlcache.New[K, uint](
		ttlcache.WithTTL[K, uint](ttl),
		ttlcache.WithDisableTouchOnHit[K, uint](),
	)
}

func (d *CachedDirectory) TenantByAddress(ctx context.Context, email string) (*uint, error) {
	key := parser.NormalizeAddress(email)
	return lookup(d.tenants, key, func() (*uint, error) {
		return d.next.TenantByAddress(ctx, key)
	})
}

func (d *CachedDirectory) CustomerByAddress(ctx context.Context, email string) (*uint, error) {
	key := parser.NormalizeAddress(email)
	return lookup(d.customers, key, func() (*uint, error) {
		return d.next.CustomerByAddress(ctx, key)
	})
}

func (d *CachedDirectory) EventOwner(ctx context.Context, eventID uint) (*uint, error) {
	return lookup(d.events, eventID, func() (*uint, error) {
		return d.next.EventOwner(ctx, eventID)
	})
}

// Close stops the expiry loops
func (d *CachedDirectory) Close() {
	d.tenants.Stop()
	d.customers.Stop()
	d.events.Stop()
}

func lookup[K comparable](c *ttlcache.Cache[K, uint], key K, load func() (*uint, error)) (*uint, error) {
	if item := c.Get(key); item != nil {
		id := item.Value()
		return &id, nil
	}
	id, err := load()
	if err != nil || id == nil {
		return id, err
	}
	c.Set(key, *id, ttlcache.DefaultTTL)
	return id, nil
}
