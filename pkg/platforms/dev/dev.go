package dev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

// Fetcher serves canned portal data from memory. It backs the tests and the
// offline --platform dev mode, and counts every call it receives.
type Fetcher struct {
	mu sync.Mutex

	records map[entity.Key]entity.Fields
	order   []entity.Key

	token      string
	logins     int
	rejectNext int
	loginErrs  []error
	fetchErrs  map[entity.Key]error
	calls      Calls

	// Delay is applied to every network-like call and honours ctx.
	Delay time.Duration
}

// Calls counts the requests a Fetcher received.
type Calls struct {
	Login       int
	Fetch       int
	FetchFields int
	List        int
	// Levels records the level of every Fetch call in order.
	Levels []entity.Level
	// Fields records the field set of every FetchFields call in order.
	Fields [][]string
}

func New() *Fetcher {
	return &Fetcher{
		records:   make(map[entity.Key]entity.Fields),
		fetchErrs: make(map[entity.Key]error),
	}
}

func (f *Fetcher) Name() string { return "dev" }

// Put stores the full record for v.Key, replacing any previous one. New keys
// are appended to the collection order.
func (f *Fetcher) Put(v entity.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[v.Key]; !ok {
		f.order = append(f.order, v.Key)
	}
	f.records[v.Key] = v.Fields.Clone()
}

func (f *Fetcher) Remove(key entity.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i:i], f.order[i+1:]...)
			break
		}
	}
}

// FailFetch makes every fetch of key fail with err until cleared with nil.
func (f *Fetcher) FailFetch(key entity.Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErrs, key)
		return
	}
	f.fetchErrs[key] = err
}

// RejectSessions makes the next n authenticated calls fail with
// platforms.ErrAuthExpired regardless of the session presented.
func (f *Fetcher) RejectSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectNext = n
}

// ExpireSessions forgets the issued token, so the next call presenting it
// is rejected.
func (f *Fetcher) ExpireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
}

// FailLogins queues errors returned by the next Login calls.
func (f *Fetcher) FailLogins(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginErrs = append(f.loginErrs, errs...)
}

func (f *Fetcher) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls
	c.Levels = append([]entity.Level(nil), f.calls.Levels...)
	c.Fields = append([][]string(nil), f.calls.Fields...)
	return c
}

func (f *Fetcher) Login(ctx context.Context, creds platforms.Credentials) (platforms.Session, error) {
	if err := f.wait(ctx); err != nil {
		return platforms.Session{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Login++
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		f.loginErrs = f.loginErrs[1:]
		return platforms.Session{}, &platforms.Error{Op: "login", Err: err}
	}
	if creds.Username == "" || creds.Password == "" {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: platforms.ErrAuthFailed}
	}
	f.logins++
	f.token = fmt.Sprintf("%015d", 381865010228000+f.logins)
	now := time.Now().UTC()
	return platforms.Session{
		Token:    f.token,
		Cookie:   fmt.Sprintf("dev-cookie-%d", f.logins),
		Username: creds.Username,
		IssuedAt: now,
		LastUsed: now,
		Valid:    true,
	}, nil
}

func (f *Fetcher) Fetch(ctx context.Context, key entity.Key, level entity.Level, s platforms.Session) (entity.Fields, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Fetch++
	f.calls.Levels = append(f.calls.Levels, level)
	rec, err := f.lookup("fetch", key, s)
	if err != nil {
		return nil, err
	}
	return project(rec, entity.FieldsAt(key.Kind, level))
}

func (f *Fetcher) FetchFields(ctx context.Context, current entity.Value, fields []string, s platforms.Session) (entity.Fields, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.FetchFields++
	f.calls.Fields = append(f.calls.Fields, append([]string(nil), fields...))
	rec, err := f.lookup("fetch fields", current.Key, s)
	if err != nil {
		return nil, err
	}
	return project(rec, fields)
}

func (f *Fetcher) List(ctx context.Context, kind entity.Kind, lang entity.Language, level entity.Level, s platforms.Session) ([]entity.Value, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.List++
	if err := f.authorize("list", s); err != nil {
		return nil, err
	}
	var out []entity.Value
	for _, key := range f.order {
		if key.Kind != kind || key.Language != lang {
			continue
		}
		fields, err := project(f.records[key], entity.FieldsAt(kind, level))
		if err != nil {
			return nil, err
		}
		out = append(out, entity.Value{Key: key, Level: level, Fields: fields})
	}
	return out, nil
}

func (f *Fetcher) authorize(op string, s platforms.Session) error {
	if f.rejectNext > 0 {
		f.rejectNext--
		return &platforms.Error{Op: op, Err: platforms.ErrAuthExpired}
	}
	if f.token == "" || s.Token != f.token {
		return &platforms.Error{Op: op, Err: platforms.ErrAuthExpired}
	}
	return nil
}

func (f *Fetcher) lookup(op string, key entity.Key, s platforms.Session) (entity.Fields, error) {
	if err := f.authorize(op, s); err != nil {
		return nil, err
	}
	if err, ok := f.fetchErrs[key]; ok {
		return nil, &platforms.Error{Op: op, Key: key, Err: err}
	}
	rec, ok := f.records[key]
	if !ok {
		return nil, &platforms.Error{Op: op, Key: key, Err: platforms.ErrNotFound}
	}
	return rec, nil
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// project copies the named fields of rec. Fields the record does not carry
// are returned as known-empty.
func project(rec entity.Fields, fields []string) (entity.Fields, error) {
	out := entity.NewFields()
	for _, name := range fields {
		raw := []byte("null")
		if rec.Has(name) {
			raw = []byte(rec.Get(name).Raw)
		}
		var err error
		if out, err = out.SetRaw(name, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}
