// Package core wires the cache, the session manager and the change detector
// to a portal fetcher and exposes the operations the command line runs.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stine-notifier/stine/pkg/cache"
	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
	"github.com/stine-notifier/stine/pkg/platforms/dev"
	"github.com/stine-notifier/stine/pkg/platforms/stine"
	"github.com/stine-notifier/stine/pkg/session"
	"github.com/stine-notifier/stine/pkg/storage"
	"github.com/stine-notifier/stine/pkg/whttp"
)

const (
	PlatformStine = "stine"
	PlatformDev   = "dev"
)

// Logger abstracts logging so callers can pass logrus or anything else with
// these methods.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Deps are the collaborators of a Core. Fetcher, Store, Sessions and
// Baselines are required. DB backs Stats and RecentChanges when set.
type Deps struct {
	Fetcher   platforms.Fetcher
	Store     cache.Store
	Sessions  session.Store
	Baselines changes.BaselineStore
	ChangeLog changes.ChangeLog
	DB        *storage.DB
	Now       func() time.Time
}

type options struct {
	log     Logger
	httpLog interface{}
}

type Option func(*options)

func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithHTTPLogger sets the logger of the portal HTTP client built by Open.
// It accepts anything go-retryablehttp does.
func WithHTTPLogger(l interface{}) Option {
	return func(o *options) { o.httpLog = l }
}

// Core holds everything one invocation needs.
type Core struct {
	cfg      Config
	fetcher  platforms.Fetcher
	store    cache.Store
	cache    *cache.Cache
	sessions *session.Manager
	detector *changes.Detector
	db       *storage.DB
	log      Logger
	closers  []func() error
}

// New builds a Core from explicit collaborators.
func New(cfg Config, deps Deps, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil || deps.Store == nil || deps.Sessions == nil || deps.Baselines == nil {
		return nil, fmt.Errorf("%w: fetcher, cache store, session store and baseline store are required", ErrConfig)
	}
	o := options{log: nopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := &Core{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		store:   deps.Store,
		db:      deps.DB,
		log:     o.log,
	}
	creds := platforms.Credentials{Username: cfg.Username, Password: cfg.Password}
	c.sessions = session.NewManager(deps.Fetcher, deps.Sessions, creds,
		session.WithMaxIdle(cfg.SessionMaxIdle),
		session.WithClock(now),
		session.WithLogger(o.log),
	)
	c.cache = cache.New(deps.Store, cache.NewFetchFunc(deps.Fetcher, c.sessions),
		cache.WithLogger(o.log),
		cache.WithClock(now),
		cache.WithConcurrency(cfg.Concurrency),
	)
	detectorOpts := []changes.Option{changes.WithLogger(o.log), changes.WithClock(now)}
	if deps.ChangeLog != nil {
		detectorOpts = append(detectorOpts, changes.WithChangeLog(deps.ChangeLog))
	}
	c.detector = changes.NewDetector(deps.Baselines, changes.SourceFunc(func(ctx context.Context, kind entity.Kind, lang entity.Language) ([]entity.Value, error) {
		return c.listEntities(ctx, kind, lang, cfg.DetectLevel)
	}), detectorOpts...)
	return c, nil
}

// Open builds the production wiring for platform ("stine" or "dev") from
// cfg. State lives under cfg.StateDir; the dev platform keeps its own state
// in a dev subdirectory so it never touches real data.
func Open(ctx context.Context, cfg Config, platform string, opts ...Option) (*Core, error) {
	o := options{log: nopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	var fetcher platforms.Fetcher
	switch platform {
	case PlatformStine, "":
		client, err := whttp.NewClient(whttp.ClientOptions{
			Proxy:   cfg.Proxy,
			Retries: cfg.HTTPRetries,
			Timeout: cfg.Timeout,
			Logger:  o.httpLog,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		fetcher, err = stine.New(stine.Options{
			BaseURL:     cfg.BaseURL,
			Client:      client,
			Logger:      o.log,
			Concurrency: cfg.Concurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	case PlatformDev:
		fetcher = dev.NewSample(time.Now())
		cfg.StateDir = filepath.Join(cfg.StateDir, PlatformDev)
		if cfg.CachePath != "" {
			cfg.CachePath = filepath.Join(filepath.Dir(cfg.CachePath), PlatformDev, filepath.Base(cfg.CachePath))
		}
		if cfg.Username == "" {
			cfg.Username, cfg.Password = "dev", "dev"
		}
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrConfig, platform)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.cachePath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	closers := []func() error{db.Close}

	var store cache.Store
	switch cfg.CacheBackend {
	case BackendSQLite:
		store = db
	case BackendMemory:
		store = cache.NewMemoryStore()
	case BackendRedis:
		rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store = rs
		closers = append(closers, rs.Close)
	}

	c, err := New(cfg, Deps{
		Fetcher:   fetcher,
		Store:     store,
		Sessions:  session.NewFileStore(cfg.StateDir),
		Baselines: changes.NewFileBaselineStore(filepath.Join(cfg.StateDir, "baselines")),
		ChangeLog: db,
		DB:        db,
	}, opts...)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, err
	}
	c.closers = closers
	return c, nil
}

func (c *Core) Config() Config { return c.cfg }

func (c *Core) Platform() string { return c.fetcher.Name() }

// Close releases the state database and any cache connection.
func (c *Core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// run executes fn under the configured timeout. Deadline expiry is reported
// as cache.ErrTimeout, never as a network failure.
func (c *Core) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	err := fn(ctx)
	if err == nil || errors.Is(err, cache.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s: %w", cache.ErrTimeout, op, c.cfg.Timeout, err)
	}
	return err
}

// GetEntity returns the entity at level or higher, using the cache first.
func (c *Core) GetEntity(ctx context.Context, kind entity.Kind, id string, lang entity.Language, level entity.Level) (cache.Lookup, error) {
	var lk cache.Lookup
	err := c.run(ctx, "get", func(ctx context.Context) error {
		var err error
		lk, err = c.cache.Get(ctx, entity.NewKey(kind, id, lang), level)
		return err
	})
	return lk, err
}

// GetEntities loads several entities of one kind in parallel. Results are
// in id order; failed ids leave a zero Lookup and are joined into the error.
func (c *Core) GetEntities(ctx context.Context, kind entity.Kind, ids []string, lang entity.Language, level entity.Level) ([]cache.Lookup, error) {
	keys := make([]entity.Key, len(ids))
	for i, id := range ids {
		keys[i] = entity.NewKey(kind, id, lang)
	}
	var out []cache.Lookup
	err := c.run(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = c.cache.GetMany(ctx, keys, level)
		return err
	})
	return out, err
}

// RefreshEntity drops the cached entry and fetches it again at level.
func (c *Core) RefreshEntity(ctx context.Context, kind entity.Kind, id string, lang entity.Language, level entity.Level) (cache.Lookup, error) {
	var lk cache.Lookup
	err := c.run(ctx, "refresh", func(ctx context.Context) error {
		var err error
		lk, err = c.cache.Refresh(ctx, entity.NewKey(kind, id, lang), level)
		return err
	})
	return lk, err
}

// ListEntities fetches the whole collection of kind and merges every entity
// into the cache. The fresh listing is returned.
func (c *Core) ListEntities(ctx context.Context, kind entity.Kind, lang entity.Language, level entity.Level) ([]entity.Value, error) {
	var values []entity.Value
	err := c.run(ctx, "list", func(ctx context.Context) error {
		var err error
		values, err = c.listEntities(ctx, kind, lang, level)
		return err
	})
	return values, err
}

func (c *Core) listEntities(ctx context.Context, kind entity.Kind, lang entity.Language, level entity.Level) ([]entity.Value, error) {
	if _, err := entity.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if !level.Valid() || level == entity.LevelUnloaded {
		return nil, fmt.Errorf("cannot list at level %s", level)
	}
	lister, ok := c.fetcher.(platforms.Lister)
	if !ok {
		return nil, &platforms.Error{Op: "list", Err: platforms.ErrUnsupported}
	}

	var values []entity.Value
	err := c.sessions.Do(ctx, func(s platforms.Session) error {
		var err error
		values, err = lister.List(ctx, kind, lang, level, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, v := range values {
		if _, err := c.cache.Put(ctx, v); err != nil {
			if errors.Is(err, cache.ErrTimeout) {
				return nil, err
			}
			c.log.Warnf("Could not cache %s: %v", v.Key, err)
		}
	}
	return values, nil
}

// Invalidate drops the cache entry of key.
func (c *Core) Invalidate(ctx context.Context, key entity.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return c.run(ctx, "invalidate", func(ctx context.Context) error {
		return c.cache.Invalidate(ctx, key)
	})
}

// InvalidateKind drops every cached entity of kind in lang. Only the SQLite
// backend can enumerate its entries.
func (c *Core) InvalidateKind(ctx context.Context, kind entity.Kind, lang entity.Language) (int64, error) {
	db, ok := c.store.(*storage.DB)
	if !ok {
		return 0, fmt.Errorf("%w: invalidating a whole kind needs the %s cache backend", ErrConfig, BackendSQLite)
	}
	var n int64
	err := c.run(ctx, "invalidate", func(ctx context.Context) error {
		var err error
		n, err = db.DeleteKind(ctx, kind, lang)
		return err
	})
	return n, err
}

// CachedEntries returns the cached entries of kind in lang without touching
// the network. Like InvalidateKind it needs the SQLite backend.
func (c *Core) CachedEntries(ctx context.Context, kind entity.Kind, lang entity.Language) ([]cache.Entry, error) {
	db, ok := c.store.(*storage.DB)
	if !ok {
		return nil, fmt.Errorf("%w: listing cached entries needs the %s cache backend", ErrConfig, BackendSQLite)
	}
	var out []cache.Entry
	err := c.run(ctx, "cached", func(ctx context.Context) error {
		keys, err := db.ListKeys(ctx, kind, lang)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if e, ok := c.cache.Peek(ctx, key); ok {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// RefreshSession discards the current session and logs in again.
func (c *Core) RefreshSession(ctx context.Context) (platforms.Session, error) {
	var s platforms.Session
	err := c.run(ctx, "refresh session", func(ctx context.Context) error {
		var err error
		s, err = c.sessions.Refresh(ctx)
		return err
	})
	return s, err
}

type SessionStatus struct {
	// Session is nil when none is stored.
	Session *platforms.Session
	Expired bool
}

// CheckSession reports the stored session without contacting the portal.
func (c *Core) CheckSession(ctx context.Context) (SessionStatus, error) {
	s, err := c.sessions.Current()
	if err != nil {
		return SessionStatus{}, err
	}
	if s == nil {
		return SessionStatus{Expired: true}, nil
	}
	return SessionStatus{Session: s, Expired: c.sessions.Expired(*s)}, nil
}

func (c *Core) ClearSession() error {
	return c.sessions.Clear()
}

// DetectChanges lists kind in the configured language and diffs it against
// the stored baseline.
func (c *Core) DetectChanges(ctx context.Context, kind entity.Kind, opts changes.Options) (*changes.Result, error) {
	if _, err := entity.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	var res *changes.Result
	err := c.run(ctx, "detect", func(ctx context.Context) error {
		var err error
		res, err = c.detector.Detect(ctx, kind, c.cfg.Language, opts)
		return err
	})
	return res, err
}

// ResetBaseline deletes the baseline of kind. The next detection is a
// first run.
func (c *Core) ResetBaseline(kind entity.Kind) error {
	if _, err := entity.ParseKind(string(kind)); err != nil {
		return err
	}
	return c.detector.Reset(kind)
}

// Stats describes the cache contents. Kinds comes from the state database;
// Entries is set for backends that can only count.
type Stats struct {
	Backend string
	Kinds   []storage.KindStats
	Entries int
}

func (c *Core) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: c.cfg.CacheBackend}
	err := c.run(ctx, "stats", func(ctx context.Context) error {
		if c.db != nil {
			kinds, err := c.db.GetStats(ctx)
			if err != nil {
				return err
			}
			st.Kinds = kinds
		}
		switch s := c.store.(type) {
		case *cache.RedisStore:
			n, err := s.Count(ctx)
			if err != nil {
				return err
			}
			st.Entries = n
		case *cache.MemoryStore:
			st.Entries = s.Len()
		case *storage.DB:
			for _, k := range st.Kinds {
				st.Entries += k.Total()
			}
		}
		return nil
	})
	return st, err
}

// RecentChanges reads the change log.
func (c *Core) RecentChanges(ctx context.Context, f storage.ChangeFilter) ([]storage.Change, error) {
	if c.db == nil {
		return nil, fmt.Errorf("%w: no state database configured", ErrConfig)
	}
	var rows []storage.Change
	err := c.run(ctx, "changes", func(ctx context.Context) error {
		var err error
		rows, err = c.db.ListRecentChanges(ctx, f)
		return err
	})
	return rows, err
}

// DBPath is the path of the state database, empty without one.
func (c *Core) DBPath() string {
	if c.db == nil {
		return ""
	}
	return c.db.Path()
}
