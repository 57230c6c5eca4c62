package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
	"github.com/stine-notifier/stine/pkg/platforms/dev"
)

var fullExam = map[string]interface{}{
	"number": "64-010", "name": "Mathematik I", "grade": "1,7", "credits": "9,0", "status": "passed",
	"semester": "WiSe 22/23", "course_id": "381865010228083",
	"grade_average": 2.41, "available_results": 112,
	"grade_distribution": []interface{}{}, "differing_gs_results": 0, "missing_ill": 4,
	"missing_excused": 0, "missing_canceled": 0, "missing_without_reason": 17,
}

type recorder struct {
	mu    sync.Mutex
	reqs  []entity.FetchRequest
	err   error
	block bool
}

func (r *recorder) fetch(ctx context.Context, req entity.FetchRequest) (entity.Fields, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	err, block := r.err, r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	out := entity.NewFields()
	for _, name := range req.Fields {
		var serr error
		if out, serr = out.Set(name, fullExam[name]); serr != nil {
			return nil, serr
		}
	}
	return out, nil
}

func (r *recorder) calls() []entity.FetchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.FetchRequest(nil), r.reqs...)
}

var key = entity.NewKey(entity.KindExamResult, "64-010", entity.English)

func TestGetMissFetchesExactLevelAndPersists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recorder{}
	c := New(store, rec.fetch)

	lk, err := c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	assert.Equal(t, SourceFetch, lk.Source)
	assert.Equal(t, entity.LevelSummary, lk.Value.Level)
	assert.False(t, lk.Value.Fields.Has("grade_average"), "must not over-fetch")

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, entity.LevelSummary, calls[0].Target)
	assert.Equal(t, entity.LevelUnloaded, calls[0].Current.Level)

	lk, err = c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, lk.Source)
	assert.Len(t, rec.calls(), 1)
}

func TestGetEscalatesAndKeepsCachedFields(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)

	_, err := c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	lk, err := c.Get(ctx, key, entity.LevelDetailed)
	require.NoError(t, err)

	calls := rec.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"grade_average", "available_results"}, calls[1].Fields)
	assert.Equal(t, entity.LevelDetailed, lk.Value.Level)
	assert.Equal(t, "Mathematik I", lk.Value.Fields.String("name"))
	assert.Equal(t, "2.41", lk.Value.Fields.String("grade_average"))

	// A lower request is served from the higher cached level.
	lk, err = c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, lk.Source)
	assert.Equal(t, entity.LevelDetailed, lk.Value.Level)
}

func TestGetFallsBackToCachedLevel(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)
	_, err := c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)

	rec.err = &platforms.Error{Op: "fetch", Key: key, Err: platforms.ErrNetwork}
	lk, err := c.Get(ctx, key, entity.LevelFull)
	require.NoError(t, err)
	assert.Equal(t, SourceStale, lk.Source)
	assert.Equal(t, entity.LevelSummary, lk.Value.Level)
	require.Error(t, lk.Warning)
	assert.ErrorIs(t, lk.Warning, platforms.ErrNetwork)

	// The failed escalation left the stored entry untouched.
	e, ok := c.Peek(ctx, key)
	require.True(t, ok)
	assert.Equal(t, entity.LevelSummary, e.Value.Level)
}

func TestRejectedCredentialsAreNotMaskedByCachedValue(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)
	_, err := c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)

	for _, cause := range []error{platforms.ErrAuthFatal, platforms.ErrAuthFailed} {
		rec.err = &platforms.Error{Op: "fetch", Key: key, Err: cause}
		_, err = c.Get(ctx, key, entity.LevelFull)
		var ferr *FetchError
		require.ErrorAs(t, err, &ferr)
		assert.ErrorIs(t, err, cause)
	}
}

func TestGetWithoutCacheReturnsFetchError(t *testing.T) {
	rec := &recorder{err: &platforms.Error{Op: "fetch", Key: key, Err: platforms.ErrNetwork}}
	c := New(NewMemoryStore(), rec.fetch)

	_, err := c.Get(context.Background(), key, entity.LevelSummary)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, key, ferr.Key)
	assert.ErrorIs(t, err, platforms.ErrNetwork)
}

func TestGetTimeoutPersistsNothing(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, (&recorder{block: true}).fetch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, key, entity.LevelSummary)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, store.Len())
}

func TestTimeoutIsNotMaskedByCachedValue(t *testing.T) {
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)
	_, err := c.Get(context.Background(), key, entity.LevelSummary)
	require.NoError(t, err)

	rec.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, key, entity.LevelFull)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCorruptEntryIsDroppedForThatKeyOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recorder{}
	c := New(store, rec.fetch)

	other := entity.NewKey(entity.KindExamResult, "64-030", entity.English)
	_, err := c.Get(ctx, other, entity.LevelSummary)
	require.NoError(t, err)

	tests := map[string][]byte{
		"garbage":        []byte("{not json"),
		"future version": []byte(`{"schema_version":99,"key":{"kind":"exam_result","id":"64-010","language":"en"},"level":1,"fields":{}}`),
		"level mismatch": []byte(`{"schema_version":1,"key":{"kind":"exam_result","id":"64-010","language":"en"},"level":3,"fields":{"name":"x"}}`),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			store.PutRaw(key, raw)
			before := len(rec.calls())

			lk, err := c.Get(ctx, key, entity.LevelSummary)
			require.NoError(t, err)
			assert.Equal(t, SourceFetch, lk.Source)
			assert.Len(t, rec.calls(), before+1)

			_, ok := c.Peek(ctx, other)
			assert.True(t, ok, "other keys survive")
		})
	}
}

func TestPeekLeavesCorruptEntryInPlace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recorder{}
	c := New(store, rec.fetch)

	store.PutRaw(key, []byte("{not json"))
	_, ok := c.Peek(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
	assert.Empty(t, rec.calls())

	_, err := c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	_, ok = c.Peek(ctx, key)
	assert.True(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f, err := entity.FieldsOf(fullExam)
	require.NoError(t, err)
	want := Entry{Value: entity.Value{Key: key, Level: entity.LevelFull, Fields: f}, FetchedAt: time.Date(2022, 8, 23, 12, 46, 0, 0, time.UTC)}

	require.NoError(t, store.Save(ctx, want))
	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(want.Value))
	assert.True(t, got.FetchedAt.Equal(want.FetchedAt))
}

func TestInvalidateRestartsFromUnloaded(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)
	_, err := c.Get(ctx, key, entity.LevelDetailed)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, key))
	_, ok := c.Peek(ctx, key)
	assert.False(t, ok)

	_, err = c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	calls := rec.calls()
	assert.Equal(t, entity.LevelUnloaded, calls[len(calls)-1].Current.Level)
}

func TestConcurrentGetsFetchOnce(t *testing.T) {
	var n int32
	c := New(NewMemoryStore(), func(ctx context.Context, req entity.FetchRequest) (entity.Fields, error) {
		atomic.AddInt32(&n, 1)
		time.Sleep(10 * time.Millisecond)
		return (&recorder{}).fetch(ctx, req)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), key, entity.LevelSummary)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestGetManyReportsPerKeyErrors(t *testing.T) {
	bad := entity.NewKey(entity.KindExamResult, "missing", entity.English)
	c := New(NewMemoryStore(), func(ctx context.Context, req entity.FetchRequest) (entity.Fields, error) {
		if req.Key == bad {
			return nil, platforms.ErrNotFound
		}
		return (&recorder{}).fetch(ctx, req)
	}, WithConcurrency(2))

	out, err := c.GetMany(context.Background(), []entity.Key{key, bad}, entity.LevelSummary)
	assert.ErrorIs(t, err, platforms.ErrNotFound)
	require.Len(t, out, 2)
	assert.Equal(t, entity.LevelSummary, out[0].Value.Level)
}

func TestPutMergesListedValues(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c := New(NewMemoryStore(), rec.fetch)
	_, err := c.Get(ctx, key, entity.LevelDetailed)
	require.NoError(t, err)

	f, err := entity.FieldsOf(map[string]interface{}{
		"number": "64-010", "name": "Mathematik I", "grade": "1,3", "credits": "9,0", "status": "passed",
		"semester": "WiSe 22/23", "course_id": "381865010228083",
	})
	require.NoError(t, err)
	merged, err := c.Put(ctx, entity.Value{Key: key, Level: entity.LevelSummary, Fields: f})
	require.NoError(t, err)
	assert.Equal(t, entity.LevelDetailed, merged.Level)
	assert.Equal(t, "1,3", merged.Fields.String("grade"))
	assert.True(t, merged.Fields.Has("grade_average"))
}

type directSessions struct{ s platforms.Session }

func (d directSessions) Do(ctx context.Context, fn func(platforms.Session) error) error {
	return fn(d.s)
}

func TestFetchFuncUsesPartialFetches(t *testing.T) {
	ctx := context.Background()
	f := dev.NewSample(time.Now())
	s, err := f.Login(ctx, platforms.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	c := New(NewMemoryStore(), NewFetchFunc(f, directSessions{s}))

	_, err = c.Get(ctx, key, entity.LevelSummary)
	require.NoError(t, err)
	lk, err := c.Get(ctx, key, entity.LevelFull)
	require.NoError(t, err)
	require.NoError(t, lk.Value.Covers(entity.LevelFull))

	calls := f.Calls()
	assert.Equal(t, 1, calls.Fetch)
	assert.Equal(t, 1, calls.FetchFields)
	assert.Equal(t, entity.MissingFields(entity.KindExamResult, entity.LevelSummary, entity.LevelFull), calls.Fields[0])
}

func TestFetchFuncPropagatesAuthErrors(t *testing.T) {
	f := dev.New()
	c := New(NewMemoryStore(), NewFetchFunc(f, directSessions{}))
	_, err := c.Get(context.Background(), key, entity.LevelSummary)
	assert.True(t, errors.Is(err, platforms.ErrAuthExpired), "got %v", err)
}
