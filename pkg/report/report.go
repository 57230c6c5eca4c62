// Package report renders entities and change events for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/storage"
)

const TimeFormat = "2006-01-02 15:04:05"

// PrintValues writes one line per value. Each rune of outputFlags selects a
// column: k kind, i id, l language, c completeness level, n display name,
// f every known field as name=value.
func PrintValues(w io.Writer, values []entity.Value, outputFlags, delimiter string) error {
	for _, v := range values {
		line, err := createLine(v, outputFlags, delimiter)
		if err != nil {
			return err
		}
		if len(line) > 0 {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func createLine(v entity.Value, outputFlags, delimiter string) (string, error) {
	var cols []string
	for _, f := range outputFlags {
		switch f {
		case 'k':
			cols = append(cols, string(v.Key.Kind))
		case 'i':
			cols = append(cols, v.Key.ID)
		case 'l':
			cols = append(cols, string(v.Key.Language))
		case 'c':
			cols = append(cols, v.Level.String())
		case 'n':
			cols = append(cols, v.Fields.String("name"))
		case 'f':
			cols = append(cols, fieldList(v))
		default:
			return "", fmt.Errorf("invalid print flag %q", f)
		}
	}
	return strings.Join(cols, delimiter), nil
}

// fieldList renders the known fields in schema order, then any others.
func fieldList(v entity.Value) string {
	seen := make(map[string]bool)
	var parts []string
	add := func(name string) {
		if seen[name] || !v.Fields.Has(name) {
			return
		}
		seen[name] = true
		parts = append(parts, name+"="+v.Fields.String(name))
	}
	for _, spec := range entity.Schema(v.Key.Kind) {
		add(spec.Name)
	}
	for _, name := range v.Fields.Names() {
		add(name)
	}
	return strings.Join(parts, " ")
}

// PrintValue writes a single value as an aligned field listing.
func PrintValue(w io.Writer, v entity.Value) {
	fmt.Fprintf(w, "%s  (%s)\n", v.Key, v.Level)
	width := 0
	for _, name := range v.Fields.Names() {
		if len(name) > width {
			width = len(name)
		}
	}
	for _, spec := range entity.Schema(v.Key.Kind) {
		if !v.Fields.Has(spec.Name) || spec.Name == "grade_distribution" {
			continue
		}
		fmt.Fprintf(w, "  %-*s  %s\n", width, spec.Name, v.Fields.String(spec.Name))
	}
	if v.Key.Kind == entity.KindExamResult {
		if r, err := entity.Decode[entity.ExamResult](v); err == nil {
			printDistribution(w, r.GradeDistribution)
		}
	}
}

const barWidth = 30

// printDistribution draws the grade distribution as a horizontal histogram.
func printDistribution(w io.Writer, dist []entity.GradeCount) {
	if len(dist) == 0 {
		return
	}
	peak := 0
	for _, g := range dist {
		if g.Count > peak {
			peak = g.Count
		}
	}
	fmt.Fprintln(w, "  grade_distribution")
	for _, g := range dist {
		n := 0
		if peak > 0 {
			n = g.Count * barWidth / peak
		}
		if n == 0 && g.Count > 0 {
			n = 1
		}
		fmt.Fprintf(w, "    %.1f  %4d  %s\n", g.Grade, g.Count, strings.Repeat("#", n))
	}
}

// PrintEvents writes one line per event. Multi-line field changes are
// followed by a unified diff.
func PrintEvents(w io.Writer, events []changes.Event) {
	for _, e := range events {
		switch e.Type {
		case changes.FieldChanged:
			fmt.Fprintf(w, "%-13s  %s  %s: %s\n", e.Type, e.Key, e.Field, Change(e.Field, e.Old, e.New))
		default:
			fmt.Fprintf(w, "%-13s  %s  %s\n", e.Type, e.Key, e.Entity.Fields.String("name"))
		}
	}
}

// PrintChanges writes change log rows, newest first as stored.
func PrintChanges(w io.Writer, rows []storage.Change) {
	for _, c := range rows {
		ts := c.OccurredAt.Local().Format(TimeFormat)
		if c.ChangeType == string(changes.FieldChanged) {
			fmt.Fprintf(w, "%s  %-13s  %s/%s/%s  %s: %s\n", ts, c.ChangeType, c.Kind, c.Language, c.EntityID, c.Field, Change(c.Field, c.OldValue, c.NewValue))
			continue
		}
		fmt.Fprintf(w, "%s  %-13s  %s/%s/%s\n", ts, c.ChangeType, c.Kind, c.Language, c.EntityID)
	}
}

// Change renders an old/new pair. Single-line values are quoted inline;
// multi-line values become a unified diff on the following lines.
func Change(field, old, new string) string {
	if !strings.Contains(old, "\n") && !strings.Contains(new, "\n") {
		return fmt.Sprintf("%q -> %q", old, new)
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(new),
		FromFile: field + " (old)",
		ToFile:   field + " (new)",
		Context:  1,
	})
	if err != nil {
		return fmt.Sprintf("%q -> %q", old, new)
	}
	return "\n" + strings.TrimRight(diff, "\n")
}
