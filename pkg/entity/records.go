package entity

import (
	"fmt"
	"time"
)

// ExamResult is a course result row plus its grade statistics.
type ExamResult struct {
	Number   string `json:"number"`
	Name     string `json:"name"`
	Grade    string `json:"grade"`
	Credits  string `json:"credits"`
	Status   string `json:"status"`
	Semester string `json:"semester"`
	CourseID string `json:"course_id"`

	GradeAverage     *float64 `json:"grade_average,omitempty"`
	AvailableResults *int     `json:"available_results,omitempty"`

	GradeDistribution    []GradeCount `json:"grade_distribution,omitempty"`
	DifferingGSResults   *int         `json:"differing_gs_results,omitempty"`
	MissingIll           *int         `json:"missing_ill,omitempty"`
	MissingExcused       *int         `json:"missing_excused,omitempty"`
	MissingCanceled      *int         `json:"missing_canceled,omitempty"`
	MissingWithoutReason *int         `json:"missing_without_reason,omitempty"`
}

// GradeCount is one column of a grade distribution.
type GradeCount struct {
	Grade float64 `json:"grade"`
	Count int     `json:"count"`
}

// HasGrade reports whether the portal published a grade or a final status.
func (r ExamResult) HasGrade() bool {
	switch r.Grade {
	case "", "-", "—":
		return r.Status != "" && r.Status != "-"
	}
	return true
}

type Document struct {
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
	Status   *string   `json:"status"`
	Download string    `json:"download,omitempty"`
}

type RegistrationPeriod struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	State string    `json:"state"`
}

// Period states, derived from the fetch time.
const (
	PeriodUpcoming = "upcoming"
	PeriodOpen     = "open"
	PeriodClosed   = "closed"
)

// PeriodState places now relative to [start, end).
func PeriodState(start, end, now time.Time) string {
	switch {
	case now.Before(start):
		return PeriodUpcoming
	case now.Before(end):
		return PeriodOpen
	default:
		return PeriodClosed
	}
}

// Registration states of a module or submodule the student applied for.
const (
	RegistrationPending  = "pending"
	RegistrationAccepted = "accepted"
	RegistrationRejected = "rejected"
)

type Module struct {
	Number        string      `json:"number"`
	Name          string      `json:"name"`
	Registration  string      `json:"registration,omitempty"`
	Owner         string      `json:"owner,omitempty"`
	Credits       string      `json:"credits,omitempty"`
	Duration      string      `json:"duration,omitempty"`
	Electives     string      `json:"electives,omitempty"`
	StartSemester string      `json:"start_semester,omitempty"`
	TimetableName string      `json:"timetable_name,omitempty"`
	Submodules    []Submodule `json:"submodules,omitempty"`
	Exams         []Exam      `json:"exams,omitempty"`
}

type Exam struct {
	Name        string   `json:"name"`
	Date        string   `json:"date,omitempty"`
	Instructors []string `json:"instructors,omitempty"`
}

type Submodule struct {
	Number          string        `json:"number"`
	Name            string        `json:"name"`
	CourseNumber    string        `json:"course_number"`
	Registration    string        `json:"registration,omitempty"`
	EventType       string        `json:"event_type,omitempty"`
	Instructors     []string      `json:"instructors,omitempty"`
	HoursPerWeek    *float64      `json:"hours_per_week,omitempty"`
	Credits         string        `json:"credits,omitempty"`
	Language        string        `json:"language,omitempty"`
	MinParticipants *int          `json:"min_participants,omitempty"`
	MaxParticipants *int          `json:"max_participants,omitempty"`
	Appointments    []Appointment `json:"appointments,omitempty"`
	Groups          []string      `json:"groups,omitempty"`
}

type Appointment struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Room        string    `json:"room,omitempty"`
	Instructors []string  `json:"instructors,omitempty"`
}

// Decode returns a typed view of a value. Fields the value was not loaded
// with keep their zero value.
func Decode[T any](v Value) (T, error) {
	var out T
	if len(v.Fields) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(v.Fields, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", v.Key, err)
	}
	return out, nil
}
