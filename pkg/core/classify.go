package core

import (
	"context"
	"errors"

	"github.com/stine-notifier/stine/pkg/cache"
	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
	"github.com/stine-notifier/stine/pkg/session"
)

// Class groups errors by how the caller should react to them.
type Class int

const (
	Unknown Class = iota
	AuthFatal
	NetworkTransient
	Timeout
	CacheCorrupt
	ConfigError
	NotFound
	ParseError
)

func (c Class) String() string {
	switch c {
	case AuthFatal:
		return "auth_fatal"
	case NetworkTransient:
		return "network_transient"
	case Timeout:
		return "timeout"
	case CacheCorrupt:
		return "cache_corrupt"
	case ConfigError:
		return "config_error"
	case NotFound:
		return "not_found"
	case ParseError:
		return "parse_error"
	}
	return "unknown"
}

// Classify maps err to its Class. The first matching rule wins, so a
// rejected re-login is AuthFatal even though it also wraps ErrAuthExpired.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, ErrConfig),
		errors.Is(err, entity.ErrUnknownKind),
		errors.Is(err, entity.ErrUnknownLanguage),
		errors.Is(err, entity.ErrInvalidKey),
		errors.Is(err, changes.ErrLanguageMismatch):
		return ConfigError
	case errors.Is(err, session.ErrAuthFatal),
		errors.Is(err, platforms.ErrAuthFailed):
		return AuthFatal
	case errors.Is(err, cache.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, cache.ErrCorrupt),
		errors.Is(err, changes.ErrBaselineCorrupt):
		return CacheCorrupt
	case errors.Is(err, platforms.ErrNotFound),
		errors.Is(err, cache.ErrNotFound):
		return NotFound
	case errors.Is(err, platforms.ErrParse),
		errors.Is(err, entity.ErrIncomplete),
		errors.Is(err, entity.ErrMalformed):
		return ParseError
	case errors.Is(err, platforms.ErrNetwork),
		errors.Is(err, platforms.ErrAuthExpired):
		return NetworkTransient
	}
	return Unknown
}

// ExitCode is the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Classify(err) {
	case AuthFatal:
		return 2
	case NetworkTransient:
		return 3
	case Timeout:
		return 4
	case CacheCorrupt:
		return 5
	case ConfigError:
		return 6
	}
	return 1
}
