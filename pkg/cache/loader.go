package cache

import (
	"context"
	"errors"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

// SessionRunner runs fn with a valid session, re-authenticating when the
// session is rejected.
type SessionRunner interface {
	Do(ctx context.Context, fn func(platforms.Session) error) error
}

// NewFetchFunc adapts a Fetcher to the cache. Escalations of a loaded value
// go through PartialFetcher when the fetcher implements it, so only the
// missing fields are requested; otherwise the record is fetched at the
// target level and merged.
func NewFetchFunc(f platforms.Fetcher, sessions SessionRunner) entity.FetchFunc {
	partial, _ := f.(platforms.PartialFetcher)
	return func(ctx context.Context, req entity.FetchRequest) (entity.Fields, error) {
		var out entity.Fields
		err := sessions.Do(ctx, func(s platforms.Session) error {
			if partial != nil && req.Current.Level > entity.LevelUnloaded {
				fields, err := partial.FetchFields(ctx, req.Current, req.Fields, s)
				if err == nil {
					out = fields
					return nil
				}
				if !errors.Is(err, platforms.ErrUnsupported) {
					return err
				}
			}
			fields, err := f.Fetch(ctx, req.Key, req.Target, s)
			if err != nil {
				return err
			}
			out = fields
			return nil
		})
		return out, err
	}
}
