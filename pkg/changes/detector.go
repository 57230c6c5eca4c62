// Package changes compares freshly fetched collections against the last
// observed baseline and reports what changed.
package changes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stine-notifier/stine/pkg/entity"
)

// ErrLanguageMismatch is returned when the baseline was taken in another
// language than the one requested. Localized fields would all differ.
var ErrLanguageMismatch = errors.New("baseline language differs from requested language")

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Source loads the current collection of a kind.
type Source interface {
	FetchCollection(ctx context.Context, kind entity.Kind, lang entity.Language) ([]entity.Value, error)
}

type SourceFunc func(ctx context.Context, kind entity.Kind, lang entity.Language) ([]entity.Value, error)

func (f SourceFunc) FetchCollection(ctx context.Context, kind entity.Kind, lang entity.Language) ([]entity.Value, error) {
	return f(ctx, kind, lang)
}

// ChangeLog receives the events of every run that had a baseline.
type ChangeLog interface {
	RecordChanges(ctx context.Context, events []Event) error
}

type Options struct {
	// ForceLanguage discards a baseline taken in another language and starts
	// over as if none existed.
	ForceLanguage bool
	// DryRun computes events without persisting the baseline or the log.
	DryRun bool
}

type Result struct {
	RunID    string
	Kind     entity.Kind
	Language entity.Language
	// FirstRun is set when there was no usable baseline; Events is empty.
	FirstRun      bool
	BaselineReset bool
	Entities      int
	Events        []Event
	// Warning carries a non-fatal problem, such as a corrupt baseline that
	// was replaced.
	Warning error
}

type Detector struct {
	store   BaselineStore
	source  Source
	log     Logger
	changes ChangeLog
	now     func() time.Time
	runID   func() string
}

type Option func(*Detector)

func WithLogger(l Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

func WithChangeLog(c ChangeLog) Option { return func(d *Detector) { d.changes = c } }

func WithClock(now func() time.Time) Option { return func(d *Detector) { d.now = now } }

func NewDetector(store BaselineStore, source Source, opts ...Option) *Detector {
	d := &Detector{
		store:  store,
		source: source,
		log:    nopLogger{},
		now:    time.Now,
		runID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect fetches the current collection of kind and diffs it against the
// baseline. Without a baseline the collection becomes the baseline and no
// events are returned, so a first run does not report everything as new.
func (d *Detector) Detect(ctx context.Context, kind entity.Kind, lang entity.Language, opts Options) (*Result, error) {
	res := &Result{RunID: d.runID(), Kind: kind, Language: lang}

	base, err := d.store.Load(kind)
	if err != nil {
		if !errors.Is(err, ErrBaselineCorrupt) {
			return nil, fmt.Errorf("load %s baseline: %w", kind, err)
		}
		d.log.Warnf("Ignoring unusable %s baseline: %v", kind, err)
		res.Warning = err
		base = nil
	}
	if base != nil && base.Language != lang {
		if !opts.ForceLanguage {
			return nil, fmt.Errorf("%w: %s baseline is %q, requested %q", ErrLanguageMismatch, kind, base.Language, lang)
		}
		d.log.Infof("Discarding %s baseline in %q, starting over in %q", kind, base.Language, lang)
		base = nil
		res.BaselineReset = true
	}

	current, err := d.source.FetchCollection(ctx, kind, lang)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := make([]entity.Value, len(current))
	for i, v := range current {
		snapshot[i] = v.Clone()
	}
	res.Entities = len(snapshot)

	now := d.now().UTC()
	if base == nil {
		res.FirstRun = true
		d.log.Debugf("No %s baseline yet, recording %d entities", kind, len(snapshot))
	} else {
		res.Events = Diff(kind, base.Entities, snapshot)
		for i := range res.Events {
			res.Events[i].RunID = res.RunID
			res.Events[i].OccurredAt = now
		}
	}

	if opts.DryRun {
		return res, nil
	}
	if err := d.store.Save(Baseline{
		Kind: kind, Language: lang, RunID: res.RunID, TakenAt: now, Entities: snapshot,
	}); err != nil {
		return nil, fmt.Errorf("save %s baseline: %w", kind, err)
	}
	if d.changes != nil && len(res.Events) > 0 {
		if err := d.changes.RecordChanges(ctx, res.Events); err != nil {
			d.log.Warnf("Could not record %d changes: %v", len(res.Events), err)
		}
	}
	return res, nil
}

// Reset removes the baseline of kind; the next run starts over.
func (d *Detector) Reset(kind entity.Kind) error {
	return d.store.Delete(kind)
}
