package entity

import (
	"regexp"
	"strings"
)

// FieldDiff is a field known on both sides with different values.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

// CompareFields compares the given fields of two values. A field unknown on
// either side is skipped, whatever level the values were loaded at.
func CompareFields(old, new Value, fields []string) []FieldDiff {
	var out []FieldDiff
	for _, name := range fields {
		if !old.Fields.Has(name) || !new.Fields.Has(name) {
			continue
		}
		a, b := old.Fields.Get(name), new.Fields.Get(name)
		if SameValue(a, b) {
			continue
		}
		out = append(out, FieldDiff{Field: name, Old: Display(a), New: Display(b)})
	}
	return out
}

var sectionSuffix = regexp.MustCompile(`-N\d+$`)

// IdentityID returns the id used to match records across snapshots.
//
// Module and submodule ids carry a trailing section suffix such as -N0 or
// -N12 naming a cohort variant of the same module. One such suffix is
// stripped for those kinds; the raw id stays on the key for display. Ids of
// other kinds are returned trimmed.
func IdentityID(kind Kind, id string) string {
	id = strings.TrimSpace(id)
	switch kind {
	case KindModule, KindSubmodule:
		if base := sectionSuffix.ReplaceAllString(id, ""); base != "" {
			return base
		}
	}
	return id
}
