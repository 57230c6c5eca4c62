package entity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformed is returned for payloads that are not a JSON object.
var ErrMalformed = errors.New("malformed field payload")

// Fields is the field payload of a record, kept as a JSON object.
//
// A field that is absent is unknown. A field present with a null value is
// known to be empty. Comparisons rely on this distinction.
type Fields []byte

func NewFields() Fields { return Fields(`{}`) }

// FieldsOf encodes a map or struct as a payload.
func FieldsOf(v interface{}) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	f := Fields(b)
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, truncate(string(b), 64))
	}
	return f, nil
}

// ParseFields validates raw bytes and returns them as a payload.
func ParseFields(b []byte) (Fields, error) {
	f := Fields(b)
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, truncate(string(b), 64))
	}
	return f.Clone(), nil
}

func (f Fields) Valid() bool {
	if len(f) == 0 {
		return false
	}
	return jsoniter.ConfigFastest.Valid(f) && gjson.ParseBytes(f).IsObject()
}

func (f Fields) Has(name string) bool {
	if len(f) == 0 {
		return false
	}
	return gjson.GetBytes(f, fieldPath(name)).Exists()
}

func (f Fields) Get(name string) gjson.Result {
	if len(f) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(f, fieldPath(name))
}

// String returns a field rendered for humans; strings lose their quotes.
func (f Fields) String(name string) string {
	return Display(f.Get(name))
}

func (f Fields) Set(name string, v interface{}) (Fields, error) {
	out, err := sjson.SetBytes(f.base(), fieldPath(name), v)
	if err != nil {
		return f, fmt.Errorf("set field %s: %w", name, err)
	}
	return Fields(out), nil
}

func (f Fields) SetRaw(name string, raw []byte) (Fields, error) {
	out, err := sjson.SetRawBytes(f.base(), fieldPath(name), raw)
	if err != nil {
		return f, fmt.Errorf("set field %s: %w", name, err)
	}
	return Fields(out), nil
}

func (f Fields) Delete(name string) (Fields, error) {
	out, err := sjson.DeleteBytes(f.base(), fieldPath(name))
	if err != nil {
		return f, fmt.Errorf("delete field %s: %w", name, err)
	}
	return Fields(out), nil
}

// Names lists the known fields in payload order.
func (f Fields) Names() []string {
	if len(f) == 0 {
		return nil
	}
	var names []string
	gjson.ParseBytes(f).ForEach(func(k, _ gjson.Result) bool {
		names = append(names, k.String())
		return true
	})
	return names
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// Equal compares two payloads field by field, ignoring formatting.
func (f Fields) Equal(other Fields) bool {
	a, b := f.Names(), other.Names()
	if len(a) != len(b) {
		return false
	}
	for _, name := range a {
		if !other.Has(name) || !SameValue(f.Get(name), other.Get(name)) {
			return false
		}
	}
	return true
}

func (f Fields) MarshalJSON() ([]byte, error) {
	if len(f) == 0 {
		return []byte(`{}`), nil
	}
	return f.Clone(), nil
}

func (f *Fields) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = nil
		return nil
	}
	parsed, err := ParseFields(b)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// SameValue reports whether two JSON values are semantically equal.
func SameValue(a, b gjson.Result) bool {
	return reflect.DeepEqual(a.Value(), b.Value())
}

// Display renders a JSON value for humans.
func Display(r gjson.Result) string {
	if !r.Exists() {
		return ""
	}
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}

func (f Fields) base() []byte {
	if len(f) == 0 {
		return []byte(`{}`)
	}
	return f.Clone()
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`,
)

func fieldPath(name string) string {
	return pathEscaper.Replace(name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
