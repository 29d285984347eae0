package cache

import (
    "container/list"
    "context"
    "fmt"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"

    "pricerelay/internal/provider"
    "pricerelay/internal/symbols"
)

const (
    DefaultTTL     = 8 * time.Second
    DefaultMaxSize = 50
)

// entry stores one symbol set's result. Entries are replaced, never mutated.
type entry struct {
    key      string
    result   *provider.FetchResult
    storedAt time.Time
    elem     *list.Element // position in insertion order
}

// Cache maps a canonical symbol-set key to the most recent fetch result for
// a TTL. Failed results are cached too, so a failing upstream is not hammered.
// Size is bounded by evicting the oldest-inserted entry (FIFO, reads never
// reorder). Concurrent misses for one key share a single fetch.
type Cache struct {
    ttl     time.Duration
    maxSize int
    now     func() time.Time

    mu    sync.Mutex
    items map[string]*entry
    order *list.List // of keys, front = oldest insert

    sf singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
    return func(c *Cache) { c.now = now }
}

// New builds a cache. Non-positive ttl or maxSize fall back to the defaults.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
    if ttl <= 0 {
        ttl = DefaultTTL
    }
    if maxSize <= 0 {
        maxSize = DefaultMaxSize
    }
    c := &Cache{
        ttl:     ttl,
        maxSize: maxSize,
        now:     time.Now,
        items:   make(map[string]*entry, maxSize),
        order:   list.New(),
    }
    for _, o := range opts {
        o(c)
    }
    return c
}

// GetOrFetch returns the live cached result for set, or calls fetch, stores
// whatever it returns (success or failure) and returns it. A live hit returns
// the identical *FetchResult and never calls fetch.
func (c *Cache) GetOrFetch(ctx context.Context, set symbols.Set, fetch provider.FetchFunc) *provider.FetchResult {
    key := set.Key()
    if res, ok := c.get(key); ok {
        return res
    }

    // The shared fetch must not die with whichever subscriber triggered it;
    // the upstream client's own timeouts bound it. A caller that gives up
    // early gets a failure of its own while the fetch still fills the entry.
    shared := context.WithoutCancel(ctx)
    ch := c.sf.DoChan(key, func() (v any, err error) {
        // Another caller may have filled the entry while we queued.
        if res, ok := c.get(key); ok {
            return res, nil
        }
        // singleflight re-panics DoChan panics on a fresh goroutine, which
        // would take the process down.
        defer func() {
            if r := recover(); r != nil {
                res := provider.Failed(set, fmt.Errorf("internal error: %v", r))
                c.put(key, res)
                v, err = res, nil
            }
        }()
        res := fetch(shared, set)
        if res == nil {
            res = provider.Failed(set, nil)
        }
        c.put(key, res)
        return res, nil
    })
    select {
    case r := <-ch:
        return r.Val.(*provider.FetchResult)
    case <-ctx.Done():
        return provider.Failed(set, ctx.Err())
    }
}

// get returns a live entry, dropping it if it has expired.
func (c *Cache) get(key string) (*provider.FetchResult, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.items[key]
    if !ok {
        return nil, false
    }
    if c.now().Sub(e.storedAt) >= c.ttl {
        c.removeLocked(e)
        return nil, false
    }
    return e.result, true
}

func (c *Cache) put(key string, res *provider.FetchResult) {
    c.mu.Lock()
    defer c.mu.Unlock()
    // A refresh is a new insertion: it moves to the back of the order.
    if old, ok := c.items[key]; ok {
        c.removeLocked(old)
    }
    for len(c.items) >= c.maxSize {
        oldest := c.order.Front()
        if oldest == nil {
            break
        }
        c.removeLocked(c.items[oldest.Value.(string)])
    }
    e := &entry{key: key, result: res, storedAt: c.now()}
    e.elem = c.order.PushBack(key)
    c.items[key] = e
}

func (c *Cache) removeLocked(e *entry) {
    c.order.Remove(e.elem)
    delete(c.items, e.key)
}

// Len reports the number of stored entries, live or not yet lazily expired.
func (c *Cache) Len() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return len(c.items)
}

func (c *Cache) MaxSize() int { return c.maxSize }

func (c *Cache) TTL() time.Duration { return c.ttl }

// keys returns the stored keys, oldest insert first.
func (c *Cache) keys() []string {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := make([]string, 0, c.order.Len())
    for e := c.order.Front(); e != nil; e = e.Next() {
        out = append(out, e.Value.(string))
    }
    return out
}
