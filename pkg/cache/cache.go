// Package cache keeps previously fetched entities across invocations and
// escalates them to higher completeness levels on demand.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

// ErrTimeout is returned when the invocation deadline expires while a fetch
// is in flight. Nothing fetched by that call is persisted.
var ErrTimeout = errors.New("operation timed out")

// Logger abstracts logging so callers can pass logrus or anything else with
// these methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Source tells where a lookup result came from.
type Source int

const (
	SourceCache Source = iota
	SourceFetch
	// SourceStale is a cached value returned because a fetch failed.
	SourceStale
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceFetch:
		return "fetch"
	case SourceStale:
		return "stale"
	}
	return "unknown"
}

// Lookup is the result of Get.
type Lookup struct {
	Value     entity.Value
	FetchedAt time.Time
	Source    Source
	// Warning is set when the value is below the requested level because a
	// fetch failed, or when it could not be written back.
	Warning error
}

// FetchError is returned when a fetch failed and nothing usable was cached.
type FetchError struct {
	Key   entity.Key
	Level entity.Level
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s at %s: %v", e.Key, e.Level, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache is the entity cache. Entries never expire; callers invalidate.
type Cache struct {
	store       Store
	fetch       entity.FetchFunc
	log         Logger
	now         func() time.Time
	concurrency int

	group singleflight.Group
	mu    sync.Mutex
	locks map[entity.Key]*sync.Mutex
}

type Option func(*Cache)

func WithLogger(l Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithConcurrency bounds GetMany. Values <= 0 keep the default of 4.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func New(store Store, fetch entity.FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		fetch:       fetch,
		log:         nopLogger{},
		now:         time.Now,
		concurrency: 4,
		locks:       make(map[entity.Key]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value of key at min level or higher. A cached value that
// is high enough is returned without touching the network. Otherwise the
// missing part is fetched at exactly min, merged and written back.
//
// When the fetch fails and a cached value exists it is returned with
// Lookup.Warning set, unless the credentials are rejected for good. Without a cached value the error is a *FetchError.
// Deadline expiry yields ErrTimeout in either case.
func (c *Cache) Get(ctx context.Context, key entity.Key, min entity.Level) (Lookup, error) {
	if err := key.Validate(); err != nil {
		return Lookup{}, err
	}
	if !min.Valid() {
		return Lookup{}, fmt.Errorf("invalid completeness level %d", int(min))
	}
	res, err, shared := c.group.Do(key.String()+"@"+min.String(), func() (interface{}, error) {
		return c.get(ctx, key, min)
	})
	if err != nil {
		return Lookup{}, err
	}
	lk := res.(Lookup)
	if shared {
		lk.Value = lk.Value.Clone()
	}
	return lk, nil
}

func (c *Cache) get(ctx context.Context, key entity.Key, min entity.Level) (Lookup, error) {
	unlock := c.lock(key)
	defer unlock()

	cached, ok := c.load(ctx, key)
	if ok && cached.Value.Level >= min {
		return Lookup{Value: cached.Value, FetchedAt: cached.FetchedAt, Source: SourceCache}, nil
	}

	base := entity.Unloaded(key)
	if ok {
		base = cached.Value
	}
	c.log.Debugf("Escalating %s from %s to %s", key, base.Level, min)
	next, err := base.Escalate(ctx, min, c.fetch)
	if err != nil {
		if ctx.Err() != nil {
			return Lookup{}, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
		}
		ferr := &FetchError{Key: key, Level: min, Err: err}
		if ok && cached.Value.Level > entity.LevelUnloaded && !authFatal(err) {
			c.log.Warnf("Could not fetch %s at %s, using cached %s value: %v", key, min, cached.Value.Level, err)
			return Lookup{Value: cached.Value, FetchedAt: cached.FetchedAt, Source: SourceStale, Warning: ferr}, nil
		}
		return Lookup{}, ferr
	}
	if err := ctx.Err(); err != nil {
		return Lookup{}, fmt.Errorf("%w: %s: %w", ErrTimeout, key, err)
	}

	entry := Entry{Value: next, FetchedAt: c.now().UTC()}
	lk := Lookup{Value: next, FetchedAt: entry.FetchedAt, Source: SourceFetch}
	if err := c.store.Save(ctx, entry); err != nil {
		c.log.Warnf("Could not persist %s: %v", key, err)
		lk.Warning = err
	}
	return lk, nil
}

// authFatal reports failures that must reach the caller even when a cached
// value could be shown instead.
func authFatal(err error) bool {
	return errors.Is(err, platforms.ErrAuthFatal) || errors.Is(err, platforms.ErrAuthFailed)
}

// Put merges a value obtained elsewhere, such as a collection listing, into
// the cache and returns the merged value.
func (c *Cache) Put(ctx context.Context, v entity.Value) (entity.Value, error) {
	if err := v.Key.Validate(); err != nil {
		return v, err
	}
	if err := v.Covers(v.Level); err != nil {
		return v, err
	}
	unlock := c.lock(v.Key)
	defer unlock()

	merged := v.Clone()
	if cached, ok := c.load(ctx, v.Key); ok {
		var err error
		if merged, err = entity.Merge(cached.Value, v); err != nil {
			return v, err
		}
	}
	if err := ctx.Err(); err != nil {
		return v, fmt.Errorf("%w: %s: %w", ErrTimeout, v.Key, err)
	}
	if err := c.store.Save(ctx, Entry{Value: merged, FetchedAt: c.now().UTC()}); err != nil {
		return v, err
	}
	return merged, nil
}

// Peek returns the cached entry without fetching. It never writes: a
// corrupt entry is reported as a miss and left for the next Get to drop.
func (c *Cache) Peek(ctx context.Context, key entity.Key) (Entry, bool) {
	unlock := c.lock(key)
	defer unlock()
	e, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Debugf("Skipping cache entry %s: %v", key, err)
		}
		return Entry{}, false
	}
	return e, true
}

// GetMany runs Get for independent keys in parallel. Results are returned
// in key order; failures are joined into the returned error and leave a zero
// Lookup in their slot.
func (c *Cache) GetMany(ctx context.Context, keys []entity.Key, min entity.Level) ([]Lookup, error) {
	out := make([]Lookup, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			out[i], errs[i] = c.Get(ctx, key, min)
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// Invalidate removes the entry of key. The next Get starts from Unloaded.
func (c *Cache) Invalidate(ctx context.Context, key entity.Key) error {
	unlock := c.lock(key)
	defer unlock()
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// Refresh drops the entry of key and fetches it again at level.
func (c *Cache) Refresh(ctx context.Context, key entity.Key, level entity.Level) (Lookup, error) {
	if err := c.Invalidate(ctx, key); err != nil {
		return Lookup{}, err
	}
	return c.Get(ctx, key, level)
}

// load reads an entry. Corrupt entries are deleted and reported as a miss;
// other store failures are logged and also treated as a miss.
func (c *Cache) load(ctx context.Context, key entity.Key) (Entry, bool) {
	e, err := c.store.Load(ctx, key)
	switch {
	case err == nil:
		return e, true
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorrupt):
		c.log.Warnf("Dropping corrupt cache entry: %v", err)
		if derr := c.store.Delete(ctx, key); derr != nil {
			c.log.Warnf("Could not delete corrupt entry %s: %v", key, derr)
		}
	default:
		c.log.Warnf("Could not read cache entry %s: %v", key, err)
	}
	return Entry{}, false
}

func (c *Cache) lock(key entity.Key) func() {
	c.mu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}
