package entity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrKeyMismatch = errors.New("cannot merge values with different keys")
	// ErrIncomplete marks a fetch result that lacks fields it was asked for.
	ErrIncomplete = errors.New("fetched payload is missing requested fields")
)

// Value is a record loaded at some completeness level. The zero Fields of an
// unloaded value hold nothing; only the key is known.
type Value struct {
	Key    Key    `json:"key"`
	Level  Level  `json:"level"`
	Fields Fields `json:"fields"`
}

// Unloaded returns a value that only knows its key.
func Unloaded(key Key) Value {
	return Value{Key: key, Level: LevelUnloaded, Fields: NewFields()}
}

// New builds a value and checks that the payload covers level.
func New(key Key, level Level, fields Fields) (Value, error) {
	v := Value{Key: key, Level: level, Fields: fields.Clone()}
	if err := v.Covers(level); err != nil {
		return Value{}, err
	}
	return v, nil
}

func (v Value) State() State { return v.Level.State() }

func (v Value) Clone() Value {
	v.Fields = v.Fields.Clone()
	return v
}

func (v Value) Equal(other Value) bool {
	return v.Key == other.Key && v.Level == other.Level && v.Fields.Equal(other.Fields)
}

// Covers checks that the payload holds every field guaranteed at level.
func (v Value) Covers(level Level) error {
	if !level.Valid() {
		return fmt.Errorf("invalid completeness level %d", int(level))
	}
	if level > LevelUnloaded && !v.Fields.Valid() {
		return fmt.Errorf("%s: %w", v.Key, ErrMalformed)
	}
	var missing []string
	for _, name := range FieldsAt(v.Key.Kind, level) {
		if !v.Fields.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s at %s: %w: %v", v.Key, level, ErrIncomplete, missing)
	}
	return nil
}

// Merge is the field-wise union of two values of the same key. Fields of
// incoming win; fields only in existing are kept. The result level is the
// higher of the two. Merging a value with itself returns an equal value.
func Merge(existing, incoming Value) (Value, error) {
	if existing.Key != incoming.Key {
		return existing, fmt.Errorf("%w: %s vs %s", ErrKeyMismatch, existing.Key, incoming.Key)
	}
	out := existing.Clone()
	if !out.Fields.Valid() {
		out.Fields = NewFields()
	}
	for _, name := range incoming.Fields.Names() {
		var err error
		out.Fields, err = out.Fields.SetRaw(name, []byte(incoming.Fields.Get(name).Raw))
		if err != nil {
			return existing, err
		}
	}
	out.Level = MaxLevel(existing.Level, incoming.Level)
	return out, nil
}

// FetchRequest describes what an escalation needs from the network.
type FetchRequest struct {
	Key     Key
	Current Value
	Target  Level
	// Fields is the exact set missing between Current.Level and Target.
	Fields []string
}

// FetchFunc retrieves a payload holding at least req.Fields.
type FetchFunc func(ctx context.Context, req FetchRequest) (Fields, error)

// Escalate raises v to target. It is a no-op when v is already at or above
// target. On any error v is returned unchanged.
func (v Value) Escalate(ctx context.Context, target Level, fetch FetchFunc) (Value, error) {
	if v.Level >= target {
		return v, nil
	}
	missing := MissingFields(v.Key.Kind, v.Level, target)
	if len(missing) == 0 {
		// Nothing new is guaranteed between the two levels.
		out := v.Clone()
		out.Level = target
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return v, err
	}

	payload, err := fetch(ctx, FetchRequest{Key: v.Key, Current: v.Clone(), Target: target, Fields: missing})
	if err != nil {
		return v, err
	}
	if !payload.Valid() {
		return v, fmt.Errorf("%s: %w", v.Key, ErrMalformed)
	}
	var absent []string
	for _, name := range missing {
		if !payload.Has(name) {
			absent = append(absent, name)
		}
	}
	if len(absent) > 0 {
		return v, fmt.Errorf("%s at %s: %w: %v", v.Key, target, ErrIncomplete, absent)
	}

	merged, err := Merge(v, Value{Key: v.Key, Level: target, Fields: payload})
	if err != nil {
		return v, err
	}
	return merged, nil
}
