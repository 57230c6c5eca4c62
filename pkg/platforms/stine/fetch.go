package stine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

// Fetch loads one entity. The portal has no single-record pages for
// documents, periods and results, so the collection is loaded and searched.
func (c *Client) Fetch(ctx context.Context, key entity.Key, level entity.Level, s platforms.Session) (entity.Fields, error) {
	if !listedAt(key.Kind, level) {
		return nil, &platforms.Error{Op: "fetch", Key: key, Err: fmt.Errorf("%w: %s above %s", platforms.ErrUnsupported, key.Kind, entity.LevelSummary)}
	}
	values, err := c.collection(ctx, key.Kind, key.Language, s)
	if err != nil {
		return nil, &platforms.Error{Op: "fetch", Key: key, Err: err}
	}
	for _, v := range values {
		if v.Key.ID != key.ID {
			continue
		}
		if key.Kind != entity.KindExamResult || level <= entity.LevelSummary {
			return v.Fields, nil
		}
		full, err := c.withGradeStats(ctx, s, v)
		if err != nil {
			return nil, &platforms.Error{Op: "fetch", Key: key, Err: err}
		}
		return full.Fields, nil
	}
	return nil, &platforms.Error{Op: "fetch", Key: key, Err: platforms.ErrNotFound}
}

// FetchFields loads the grade statistic fields of an exam result the caller
// already holds at Summary.
func (c *Client) FetchFields(ctx context.Context, current entity.Value, fields []string, s platforms.Session) (entity.Fields, error) {
	if current.Key.Kind != entity.KindExamResult {
		return nil, platforms.ErrUnsupported
	}
	stats, err := c.gradeStats(ctx, s, current.Key.Language, current.Fields.String("course_id"))
	if err != nil {
		return nil, &platforms.Error{Op: "fetch fields", Key: current.Key, Err: err}
	}
	out := entity.NewFields()
	for _, name := range fields {
		if !stats.Has(name) {
			return nil, platforms.ErrUnsupported
		}
		if out, err = out.SetRaw(name, []byte(stats.Get(name).Raw)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// List loads a whole collection. Exam results above Summary get their grade
// statistics fetched in parallel.
func (c *Client) List(ctx context.Context, kind entity.Kind, lang entity.Language, level entity.Level, s platforms.Session) ([]entity.Value, error) {
	if !listedAt(kind, level) {
		return nil, &platforms.Error{Op: "list " + string(kind), Err: fmt.Errorf("%w: %s above %s", platforms.ErrUnsupported, kind, entity.LevelSummary)}
	}
	values, err := c.collection(ctx, kind, lang, s)
	if err != nil {
		return nil, &platforms.Error{Op: "list " + string(kind), Err: err}
	}
	if kind != entity.KindExamResult || level <= entity.LevelSummary {
		return values, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range values {
		i := i
		g.Go(func() error {
			full, err := c.withGradeStats(gctx, s, values[i])
			if err != nil {
				return &platforms.Error{Op: "list " + string(kind), Key: values[i].Key, Err: err}
			}
			values[i] = full
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

func (c *Client) collection(ctx context.Context, kind entity.Kind, lang entity.Language, s platforms.Session) ([]entity.Value, error) {
	switch kind {
	case entity.KindDocument:
		return c.documents(ctx, lang, s)
	case entity.KindRegistrationPeriod:
		return c.periods(ctx, lang, s)
	case entity.KindExamResult:
		return c.results(ctx, lang, s)
	case entity.KindModule, entity.KindSubmodule:
		return c.registrations(ctx, kind, lang, s)
	default:
		return nil, fmt.Errorf("%w: %s", platforms.ErrUnsupported, kind)
	}
}

// listedAt reports whether the adapter can deliver kind at level. Modules
// and submodules only come from the registration overview, which carries
// their Summary fields.
func listedAt(kind entity.Kind, level entity.Level) bool {
	switch kind {
	case entity.KindModule, entity.KindSubmodule:
		return level <= entity.LevelSummary
	}
	return true
}

func value(kind entity.Kind, id string, lang entity.Language, level entity.Level, record interface{}) (entity.Value, error) {
	f, err := entity.FieldsOf(record)
	if err != nil {
		return entity.Value{}, err
	}
	return entity.New(entity.NewKey(kind, id, lang), level, f)
}

func (c *Client) documents(ctx context.Context, lang entity.Language, s platforms.Session) ([]entity.Value, error) {
	body, err := c.page(ctx, s, lang, "CREATEDOCUMENT")
	if err != nil {
		return nil, err
	}
	docs, err := parseDocuments(body, c.base)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Value, 0, len(docs))
	for _, d := range docs {
		f, err := entity.FieldsOf(d)
		if err == nil && d.Download == "" {
			f, err = f.Set("download", nil)
		}
		if err != nil {
			return nil, err
		}
		v, err := entity.New(entity.NewKey(entity.KindDocument, d.Name, lang), entity.LevelFull, f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) periods(ctx context.Context, lang entity.Language, s platforms.Session) ([]entity.Value, error) {
	body, err := c.page(ctx, s, lang, "EXTERNALPAGES", "-N000385", "-Aanmeldephasen")
	if err != nil {
		return nil, err
	}
	periods, ids, err := parsePeriods(body)
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]entity.Value, 0, len(periods))
	for i, p := range periods {
		p.State = entity.PeriodState(p.Start, p.End, now)
		v, err := value(entity.KindRegistrationPeriod, ids[i], lang, entity.LevelFull, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// results walks the semester dropdown of COURSERESULTS. A result listed in
// several semesters keeps its first occurrence.
func (c *Client) results(ctx context.Context, lang entity.Language, s platforms.Session) ([]entity.Value, error) {
	body, err := c.page(ctx, s, lang, "COURSERESULTS")
	if err != nil {
		return nil, err
	}
	semesters, err := parseSemesterOptions(body)
	if err != nil {
		return nil, err
	}

	var rows []entity.ExamResult
	if len(semesters) == 0 {
		if rows, err = parseSemesterResults(body, ""); err != nil {
			return nil, err
		}
	}
	for _, sem := range semesters {
		c.log.Debugf("Parsing semester: %s", sem.Name)
		semBody, err := c.page(ctx, s, lang, "COURSERESULTS", "-N000460", "-N"+sem.Value)
		if err != nil {
			return nil, err
		}
		semRows, err := parseSemesterResults(semBody, sem.Name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, semRows...)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]entity.Value, 0, len(rows))
	for _, r := range rows {
		if seen[r.Number] {
			c.log.Debugf("Skipping %s of %s, already listed", r.Number, r.Semester)
			continue
		}
		seen[r.Number] = true
		v, err := value(entity.KindExamResult, r.Number, lang, entity.LevelSummary, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// gradeStats loads GRADEOVERVIEW for all attempts of a course. Without a
// course id every statistic field is known to be empty.
func (c *Client) gradeStats(ctx context.Context, s platforms.Session, lang entity.Language, courseID string) (entity.Fields, error) {
	var stats gradeStats
	if courseID != "" {
		body, err := c.page(ctx, s, lang, "GRADEOVERVIEW", "-N000460", "-AMOFF", "-N"+courseID, "-N0")
		if err != nil {
			return nil, err
		}
		if stats, err = parseGradeStats(body); err != nil {
			return nil, err
		}
	}
	return entity.FieldsOf(stats)
}

func (c *Client) withGradeStats(ctx context.Context, s platforms.Session, v entity.Value) (entity.Value, error) {
	stats, err := c.gradeStats(ctx, s, v.Key.Language, v.Fields.String("course_id"))
	if err != nil {
		return v, err
	}
	return entity.Merge(v, entity.Value{Key: v.Key, Level: entity.LevelFull, Fields: stats})
}

// registrations reads MYREGISTRATIONS, which lists the submodules and
// modules the student applied for with their registration state.
func (c *Client) registrations(ctx context.Context, kind entity.Kind, lang entity.Language, s platforms.Session) ([]entity.Value, error) {
	body, err := c.page(ctx, s, lang, "MYREGISTRATIONS")
	if err != nil {
		return nil, err
	}
	regs, err := parseRegistrations(body)
	if err != nil {
		return nil, err
	}

	var out []entity.Value
	seen := make(map[string]bool)
	add := func(id string, record interface{}) error {
		if seen[id] {
			c.log.Debugf("Skipping %s %s, already listed", kind, id)
			return nil
		}
		seen[id] = true
		v, err := value(kind, id, lang, entity.LevelSummary, record)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	}
	if kind == entity.KindModule {
		for _, m := range regs.Modules {
			if err := add(m.Number, m); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	for _, sm := range regs.Submodules {
		if err := add(sm.Number, sm); err != nil {
			return nil, err
		}
	}
	return out, nil
}
