package platforms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stine-notifier/stine/pkg/entity"
)

// Credentials carries the portal login.
type Credentials struct {
	Username string
	Password string
	Proxy    string
}

// Session is an authenticated portal session.
type Session struct {
	// Token is the session number the portal expects as first argument.
	Token    string          `yaml:"token"`
	Cookie   string          `yaml:"cookie"`
	Username string          `yaml:"username"`
	Language entity.Language `yaml:"language,omitempty"`
	IssuedAt time.Time       `yaml:"issued_at"`
	LastUsed time.Time       `yaml:"last_used"`
	Valid    bool            `yaml:"valid"`
}

func (s Session) Empty() bool { return s.Token == "" }

var (
	// ErrAuthExpired means the session was rejected and a new login may help.
	ErrAuthExpired = errors.New("session expired or rejected")
	// ErrAuthFailed means the credentials were rejected.
	ErrAuthFailed  = errors.New("authentication failed")
	// ErrAuthFatal means logging in cannot succeed without user action.
	ErrAuthFatal   = errors.New("authentication failed")
	ErrNetwork     = errors.New("network error")
	ErrNotFound    = errors.New("entity not found")
	ErrParse       = errors.New("unparsable portal response")
	ErrUnsupported = errors.New("not supported by this fetcher")
)

// Error wraps a fetcher failure with the operation and key it concerns.
type Error struct {
	Op  string
	Key entity.Key
	Err error
}

func (e *Error) Error() string {
	if e.Key.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Authenticator logs in to the portal.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
}

// Fetcher retrieves raw entity data. Fetch returns a payload holding every
// field guaranteed at level. Errors wrap one of the sentinels above.
type Fetcher interface {
	Authenticator
	Name() string
	Fetch(ctx context.Context, key entity.Key, level entity.Level, s Session) (entity.Fields, error)
}

// PartialFetcher is implemented by fetchers that can retrieve a subset of
// fields without reloading the whole record.
type PartialFetcher interface {
	FetchFields(ctx context.Context, current entity.Value, fields []string, s Session) (entity.Fields, error)
}

// Lister is implemented by fetchers that can load a whole collection.
type Lister interface {
	List(ctx context.Context, kind entity.Kind, lang entity.Language, level entity.Level, s Session) ([]entity.Value, error)
}
