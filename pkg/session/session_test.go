package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
	"github.com/stine-notifier/stine/pkg/platforms/dev"
)

var creds = platforms.Credentials{Username: "baa1234", Password: "hunter2"}

func listDocs(ctx context.Context, f *dev.Fetcher) func(platforms.Session) error {
	return func(s platforms.Session) error {
		_, err := f.List(ctx, entity.KindDocument, entity.English, entity.LevelSummary, s)
		return err
	}
}

func TestFileStoreAbsentAndMalformed(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)

	s, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, os.WriteFile(st.Path(), []byte("token: [unclosed"), 0o600))
	s, err = st.Load()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestFileStoreSaveIsPrivateAndRoundTrips(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "nested"))
	want := platforms.Session{
		Token: "381865010228083", Cookie: "abc", Username: "baa1234", Language: entity.German,
		IssuedAt: time.Date(2022, 8, 23, 12, 0, 0, 0, time.UTC), LastUsed: time.Date(2022, 8, 23, 12, 5, 0, 0, time.UTC), Valid: true,
	}
	require.NoError(t, st.Save(want))

	info, err := os.Stat(st.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.Language, got.Language)
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt))

	entries, err := os.ReadDir(filepath.Dir(st.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	want.Valid = false
	require.NoError(t, st.Save(want))
	got, err = st.Load()
	require.NoError(t, err)
	assert.Nil(t, got, "invalid sessions are not restored")
}

func TestEnsureValidReusesPersistedSession(t *testing.T) {
	ctx := context.Background()
	f := dev.New()
	st := NewFileStore(t.TempDir())

	first, err := NewManager(f, st, creds).EnsureValid(ctx)
	require.NoError(t, err)

	second, err := NewManager(f, st, creds).EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, f.Calls().Login)
}

func TestEnsureValidLogsInAfterIdleWindow(t *testing.T) {
	ctx := context.Background()
	f := dev.New()
	st := &MemoryStore{}
	now := time.Date(2022, 9, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	_, err := NewManager(f, st, creds, WithClock(clock)).EnsureValid(ctx)
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = NewManager(f, st, creds, WithClock(clock)).EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls().Login)
}

func TestDoRetriesOnceAfterRejection(t *testing.T) {
	ctx := context.Background()
	f := dev.NewSample(time.Now())
	m := NewManager(f, &MemoryStore{}, creds)
	_, err := m.EnsureValid(ctx)
	require.NoError(t, err)

	f.ExpireSessions()
	require.NoError(t, m.Do(ctx, listDocs(ctx, f)))
	assert.Equal(t, 2, f.Calls().Login, "exactly one re-login")
	assert.Equal(t, 2, f.Calls().List)
}

func TestDoSecondRejectionIsFatal(t *testing.T) {
	ctx := context.Background()
	f := dev.NewSample(time.Now())
	st := &MemoryStore{}
	m := NewManager(f, st, creds)
	_, err := m.EnsureValid(ctx)
	require.NoError(t, err)

	f.RejectSessions(5)
	err = m.Do(ctx, listDocs(ctx, f))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFatal)
	assert.ErrorIs(t, err, platforms.ErrAuthExpired)

	calls := f.Calls()
	assert.Equal(t, 2, calls.Login, "no login loop")
	assert.Equal(t, 2, calls.List)

	s, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, s, "rejected session is not kept")
}

func TestBadCredentialsAreFatalWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := dev.New()
	f.FailLogins(platforms.ErrAuthFailed)
	m := NewManager(f, &MemoryStore{}, creds)

	err := m.Do(ctx, func(platforms.Session) error {
		t.Fatal("fn must not run without a session")
		return nil
	})
	assert.ErrorIs(t, err, ErrAuthFatal)
	assert.Equal(t, 1, f.Calls().Login)
}

func TestMissingCredentialsAreFatal(t *testing.T) {
	m := NewManager(dev.New(), &MemoryStore{}, platforms.Credentials{Username: "baa1234"})
	_, err := m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrAuthFatal)
}

func TestNetworkFailureDuringLoginIsNotFatal(t *testing.T) {
	f := dev.New()
	f.FailLogins(platforms.ErrNetwork)
	_, err := NewManager(f, &MemoryStore{}, creds).EnsureValid(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthFatal))
	assert.ErrorIs(t, err, platforms.ErrNetwork)
}

func TestConcurrentRejectionsShareOneLogin(t *testing.T) {
	ctx := context.Background()
	f := dev.NewSample(time.Now())
	m := NewManager(f, &MemoryStore{}, creds)
	_, err := m.EnsureValid(ctx)
	require.NoError(t, err)
	f.ExpireSessions()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Do(ctx, listDocs(ctx, f)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, f.Calls().Login)
}

func TestInvalidateIgnoresReplacedSession(t *testing.T) {
	ctx := context.Background()
	f := dev.New()
	st := &MemoryStore{}
	m := NewManager(f, st, creds)
	old, err := m.EnsureValid(ctx)
	require.NoError(t, err)
	fresh, err := m.Refresh(ctx)
	require.NoError(t, err)
	require.NotEqual(t, old.Token, fresh.Token)

	m.Invalidate(old)
	cur, err := m.Current()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, fresh.Token, cur.Token)
}
