package entity

// FieldSpec places a field in the completeness table of its kind.
type FieldSpec struct {
	Name  string
	Level Level
	// Volatile fields change on every fetch (signed download links) and are
	// never compared.
	Volatile bool
	// Identity fields name the record the key id stands for and are never
	// compared either.
	Identity bool
}

var schemas = map[Kind][]FieldSpec{
	KindExamResult: {
		{Name: "number", Level: LevelSummary, Identity: true},
		{Name: "name", Level: LevelSummary},
		{Name: "grade", Level: LevelSummary},
		{Name: "credits", Level: LevelSummary},
		{Name: "status", Level: LevelSummary},
		{Name: "semester", Level: LevelSummary},
		{Name: "course_id", Level: LevelSummary},
		{Name: "grade_average", Level: LevelDetailed},
		{Name: "available_results", Level: LevelDetailed},
		{Name: "grade_distribution", Level: LevelFull},
		{Name: "differing_gs_results", Level: LevelFull},
		{Name: "missing_ill", Level: LevelFull},
		{Name: "missing_excused", Level: LevelFull},
		{Name: "missing_canceled", Level: LevelFull},
		{Name: "missing_without_reason", Level: LevelFull},
	},
	KindDocument: {
		{Name: "name", Level: LevelSummary, Identity: true},
		{Name: "issued_at", Level: LevelSummary},
		{Name: "status", Level: LevelSummary},
		{Name: "download", Level: LevelDetailed, Volatile: true},
	},
	KindRegistrationPeriod: {
		{Name: "name", Level: LevelSummary, Identity: true},
		{Name: "start", Level: LevelSummary},
		{Name: "end", Level: LevelSummary},
		{Name: "state", Level: LevelSummary},
	},
	KindModule: {
		{Name: "number", Level: LevelSummary, Identity: true},
		{Name: "name", Level: LevelSummary},
		{Name: "registration", Level: LevelSummary},
		{Name: "owner", Level: LevelDetailed},
		{Name: "credits", Level: LevelDetailed},
		{Name: "duration", Level: LevelDetailed},
		{Name: "electives", Level: LevelDetailed},
		{Name: "start_semester", Level: LevelDetailed},
		{Name: "timetable_name", Level: LevelDetailed},
		{Name: "submodules", Level: LevelFull},
		{Name: "exams", Level: LevelFull},
	},
	KindSubmodule: {
		{Name: "number", Level: LevelSummary, Identity: true},
		{Name: "name", Level: LevelSummary},
		{Name: "course_number", Level: LevelSummary},
		{Name: "registration", Level: LevelSummary},
		{Name: "event_type", Level: LevelDetailed},
		{Name: "instructors", Level: LevelDetailed},
		{Name: "hours_per_week", Level: LevelDetailed},
		{Name: "credits", Level: LevelDetailed},
		{Name: "language", Level: LevelDetailed},
		{Name: "min_participants", Level: LevelDetailed},
		{Name: "max_participants", Level: LevelDetailed},
		{Name: "appointments", Level: LevelFull},
		{Name: "groups", Level: LevelFull},
	},
}

// Schema returns the field table of a kind in declaration order.
func Schema(kind Kind) []FieldSpec {
	specs := schemas[kind]
	out := make([]FieldSpec, len(specs))
	copy(out, specs)
	return out
}

// FieldsAt returns every field a value of the given kind must hold at level.
func FieldsAt(kind Kind, level Level) []string {
	return MissingFields(kind, LevelUnloaded, level)
}

// MissingFields returns the fields guaranteed at target but not at current,
// in schema order. It is empty when current >= target.
func MissingFields(kind Kind, current, target Level) []string {
	if current >= target {
		return nil
	}
	var out []string
	for _, f := range schemas[kind] {
		if f.Level > current && f.Level <= target {
			out = append(out, f.Name)
		}
	}
	return out
}

// TrackedFields returns the fields compared by change detection.
func TrackedFields(kind Kind) []string {
	var out []string
	for _, f := range schemas[kind] {
		if f.Volatile || f.Identity {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// LevelOf reports the level that guarantees a field, or LevelUnloaded for
// fields outside the table.
func LevelOf(kind Kind, field string) Level {
	for _, f := range schemas[kind] {
		if f.Name == field {
			return f.Level
		}
	}
	return LevelUnloaded
}
