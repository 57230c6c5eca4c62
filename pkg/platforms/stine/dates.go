package stine

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/stine-notifier/stine/pkg/platforms"
)

// The portal prints local Hamburg time without a zone.
var berlin = mustLoadLocation("Europe/Berlin")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

var bareHourRe = regexp.MustCompile(`(\d{1,2}) (am|pm)$`)

var periodLayouts = []string{
	"2 January 2006, 3:04 pm",
	"2 Jan 2006, 3:04 pm",
	"02.01.06, 15:04",
	"02.01.06 15:04",
}

// parseDocumentTime reads the date ("23.08.22") and time ("14:46") columns
// of the document table.
func parseDocumentTime(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation("02.01.06 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), berlin)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: document date %q %q", platforms.ErrParse, date, clock)
	}
	return t.UTC(), nil
}

// parsePeriodTime reads one end of a registration period, either
// "Mon, 20 June 2022, 9 am" or "Mo, 20.06.22, 09:00 Uhr".
func parsePeriodTime(s string) (time.Time, error) {
	v := strings.TrimSpace(strings.ReplaceAll(s, " ,", ","))
	if i := strings.Index(v, ","); i >= 0 && i <= 4 {
		v = strings.TrimSpace(v[i+1:])
	}
	v = strings.TrimSpace(strings.TrimSuffix(v, "Uhr"))
	v = bareHourRe.ReplaceAllString(v, "$1:00 $2")

	for _, layout := range periodLayouts {
		if t, err := time.ParseInLocation(layout, v, berlin); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: period date %q", platforms.ErrParse, s)
}

// parsePeriod splits "<start> to <end>" (or " - ") and parses both ends.
func parsePeriod(s string) (start, end time.Time, err error) {
	sep := " to "
	if strings.Contains(s, " - ") {
		sep = " - "
	}
	from, to, ok := strings.Cut(s, sep)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: period %q has no separator", platforms.ErrParse, s)
	}
	if start, err = parsePeriodTime(from); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = parsePeriodTime(to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
