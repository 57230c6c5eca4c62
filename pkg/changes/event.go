package changes

import (
	"fmt"
	"time"

	"github.com/stine-notifier/stine/pkg/entity"
)

// Type is the kind of a change event.
type Type string

const (
	Added        Type = "added"
	Removed      Type = "removed"
	FieldChanged Type = "field_changed"
)

// Event is one observed change. Events are values: Entity is a private copy
// that nothing mutates after the event is emitted.
type Event struct {
	RunID      string       `json:"run_id"`
	Key        entity.Key   `json:"key"`
	Type       Type         `json:"type"`
	Field      string       `json:"field,omitempty"`
	Old        string       `json:"old,omitempty"`
	New        string       `json:"new,omitempty"`
	Entity     entity.Value `json:"entity"`
	OccurredAt time.Time    `json:"occurred_at"`
}

func (e Event) String() string {
	switch e.Type {
	case FieldChanged:
		return fmt.Sprintf("%s %s %s: %q -> %q", e.Type, e.Key, e.Field, e.Old, e.New)
	default:
		return fmt.Sprintf("%s %s", e.Type, e.Key)
	}
}
