package entity

import (
	"fmt"
	"strings"
)

// Level is the completeness a value was loaded at. Levels are totally
// ordered: a value at level L holds every field of every level <= L.
type Level int

const (
	LevelUnloaded Level = iota
	LevelSummary
	LevelDetailed
	LevelFull
)

var levelNames = map[Level]string{
	LevelUnloaded: "unloaded",
	LevelSummary:  "summary",
	LevelDetailed: "detailed",
	LevelFull:     "full",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) Valid() bool {
	return l >= LevelUnloaded && l <= LevelFull
}

func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelUnloaded, fmt.Errorf("unknown completeness level %q (want summary, detailed or full)", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid completeness level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// State is the coarse view of a level.
type State int

const (
	StateUnloaded State = iota
	StatePartial
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

func (l Level) State() State {
	switch {
	case l <= LevelUnloaded:
		return StateUnloaded
	case l >= LevelFull:
		return StateComplete
	default:
		return StatePartial
	}
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}
