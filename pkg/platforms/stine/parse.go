package stine

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

var (
	courseIDRe    = regexp.MustCompile(`-AMOFF,-N(\d+)`)
	semesterRe    = regexp.MustCompile(`(?i)^(wise|sose|suse)\s?\d\d(/\d\d)?`)
	missingTypeRe = regexp.MustCompile(`\((.*)\)`)
	eventArgRe    = regexp.MustCompile(`^-N(\d+)$`)
)

// periodNames maps the German period names to the English ones used as ids.
var periodNames = map[string]string{
	"Vorgezogene Phase":           "Early registration period",
	"Anmeldephase":                "General registration period",
	"Nachmeldephase":              "Late registration period",
	"Erstsemester":                "Registration period for first-semester students",
	"Ummelde- und Korrektur-Phase": "Changes and corrections period",
}

func newDocument(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platforms.ErrParse, err)
	}
	return doc, nil
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(strings.ReplaceAll(s.Text(), "\u00a0", " "))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

// parseDocuments reads the CREATEDOCUMENT table. Its first row is the header.
func parseDocuments(body, base string) ([]entity.Document, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, err
	}
	var (
		docs     []entity.Document
		parseErr error
	)
	doc.Find(".tb > tbody").First().Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i == 0 {
			return true
		}
		tds := row.Find("td")
		if tds.Length() < 4 {
			return true
		}
		issued, err := parseDocumentTime(cellText(tds.Eq(1)), cellText(tds.Eq(2)))
		if err != nil {
			parseErr = err
			return false
		}
		d := entity.Document{Name: cellText(tds.Eq(0)), IssuedAt: issued}
		if status := cellText(tds.Eq(3)); status != "" {
			d.Status = &status
		}
		if href, ok := row.Find(".download").Attr("href"); ok {
			d.Download = base + href
		}
		docs = append(docs, d)
		return true
	})
	return docs, parseErr
}

// parsePeriods reads the registration period page. The id of a period is
// its English name in either language.
func parsePeriods(body string) ([]entity.RegistrationPeriod, []string, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, nil, err
	}
	var (
		periods  []entity.RegistrationPeriod
		ids      []string
		parseErr error
	)
	doc.Find("#contentSpacer_IE > table > tbody > tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		tds := row.Find("td")
		if tds.Length() < 2 {
			return true
		}
		name := cellText(tds.Eq(0))
		start, end, err := parsePeriod(cellText(tds.Eq(1)))
		if err != nil {
			parseErr = fmt.Errorf("period %q: %w", name, err)
			return false
		}
		id := name
		if en, ok := periodNames[name]; ok {
			id = en
		}
		periods = append(periods, entity.RegistrationPeriod{Name: name, Start: start, End: end})
		ids = append(ids, id)
		return true
	})
	return periods, ids, parseErr
}

type semesterOption struct {
	Name  string
	Value string
}

// parseSemesterOptions returns the semesters offered on the COURSERESULTS
// page; entries such as "all semesters" are skipped.
func parseSemesterOptions(body string) ([]semesterOption, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, err
	}
	var out []semesterOption
	doc.Find("#semester > option").Each(func(_ int, opt *goquery.Selection) {
		name := cellText(opt)
		value, ok := opt.Attr("value")
		if !ok || !semesterRe.MatchString(name) {
			return
		}
		out = append(out, semesterOption{Name: name, Value: value})
	})
	return out, nil
}

// parseSemesterResults reads the result rows of one semester. Summary rows
// carry th cells and are skipped.
func parseSemesterResults(body, semester string) ([]entity.ExamResult, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, err
	}
	rows := doc.Find(".nb > tbody:nth-child(2) > tr")
	if rows.Length() == 0 {
		rows = doc.Find(".nb tbody tr")
	}
	var out []entity.ExamResult
	rows.Each(func(_ int, row *goquery.Selection) {
		tds := row.Find("td")
		if tds.Length() < 5 {
			return
		}
		r := entity.ExamResult{
			Number:   cellText(tds.Eq(0)),
			Name:     cellText(tds.Eq(1)),
			Grade:    cellText(tds.Eq(2)),
			Credits:  cellText(tds.Eq(3)),
			Status:   cellText(tds.Eq(4)),
			Semester: semester,
		}
		if r.Number == "" {
			return
		}
		if m := courseIDRe.FindStringSubmatch(row.Find("script").Text()); m != nil {
			r.CourseID = m[1]
		}
		out = append(out, r)
	})
	return out, nil
}

// gradeStats holds the GRADEOVERVIEW fields. Nothing is omitted so an
// exam without statistics still carries every field, as null.
type gradeStats struct {
	GradeAverage         *float64            `json:"grade_average"`
	AvailableResults     *int                `json:"available_results"`
	GradeDistribution    []entity.GradeCount `json:"grade_distribution"`
	DifferingGSResults   *int                `json:"differing_gs_results"`
	MissingIll           *int                `json:"missing_ill"`
	MissingExcused       *int                `json:"missing_excused"`
	MissingCanceled      *int                `json:"missing_canceled"`
	MissingWithoutReason *int                `json:"missing_without_reason"`
}

func intPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func parseGradeStats(body string) (gradeStats, error) {
	var stats gradeStats
	doc, err := newDocument(body)
	if err != nil {
		return stats, err
	}

	var grades []float64
	doc.Find(".nb > tbody > tr:nth-child(1) > td").Each(func(_ int, td *goquery.Selection) {
		if g, err := parseFloat(cellText(td)); err == nil {
			grades = append(grades, g)
		}
	})
	var counts []int
	doc.Find(".nb > tbody > tr:nth-child(2) > td").Each(func(_ int, td *goquery.Selection) {
		if n := intPtr(cellText(td)); n != nil {
			counts = append(counts, *n)
		}
	})
	for i := 0; i < len(grades) && i < len(counts); i++ {
		stats.GradeDistribution = append(stats.GradeDistribution, entity.GradeCount{Grade: grades[i], Count: counts[i]})
	}

	doc.Find(".tb .tbdata").Each(func(_ int, row *goquery.Selection) {
		key, value, ok := strings.Cut(strings.ToLower(cellText(row)), ":")
		if !ok {
			return
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "average", "durchschnitt":
			if f, err := parseFloat(value); err == nil {
				stats.GradeAverage = &f
			}
		case "available results", "vorliegende ergebnisse":
			stats.AvailableResults = intPtr(value)
		case "results with differing gs", "ergebnisse mit abweichendem bws":
			stats.DifferingGSResults = intPtr(value)
		default:
			if !strings.HasPrefix(key, "fehlend") && !strings.HasPrefix(key, "missing") {
				return
			}
			m := missingTypeRe.FindStringSubmatch(key)
			if m == nil {
				return
			}
			switch m[1] {
			case "ill", "krank":
				stats.MissingIll = intPtr(value)
			case "excused", "entschuldigt":
				stats.MissingExcused = intPtr(value)
			case "without reason", "ohne grund":
				stats.MissingWithoutReason = intPtr(value)
			case "annulliert":
				stats.MissingCanceled = intPtr(value)
			}
		}
	})
	return stats, nil
}

// registrationTables lists the tables of MYREGISTRATIONS in page order.
var registrationTables = []struct {
	kind   entity.Kind
	status string
}{
	{entity.KindSubmodule, entity.RegistrationPending},
	{entity.KindSubmodule, entity.RegistrationAccepted},
	{entity.KindSubmodule, entity.RegistrationRejected},
	{entity.KindModule, entity.RegistrationAccepted},
}

type registrations struct {
	Submodules []entity.Submodule
	Modules    []entity.Module
}

// parseRegistrations reads the MYREGISTRATIONS page. Each row links an
// event as "<number> <name>". The portal event id in the link becomes the
// section suffix of the id, so two groups of one course stay apart while
// matching as the same entity across runs. Tables missing at the end of
// the page are empty; a page without any table is not this page.
func parseRegistrations(body string) (registrations, error) {
	var out registrations
	doc, err := newDocument(body)
	if err != nil {
		return out, err
	}
	tables := doc.Find("table").Not("table table")
	if tables.Length() == 0 {
		return out, fmt.Errorf("%w: no registration tables", platforms.ErrParse)
	}
	for i, t := range registrationTables {
		if i >= tables.Length() {
			break
		}
		tables.Eq(i).ChildrenFiltered("tbody").ChildrenFiltered("tr").Each(func(_ int, row *goquery.Selection) {
			link := row.Find("a").First()
			if link.Length() == 0 {
				return
			}
			words := strings.Fields(cellText(link))
			if len(words) == 0 {
				return
			}
			number, name := words[0], strings.Join(words[1:], " ")
			id := number
			if href, ok := link.Attr("href"); ok {
				if event := eventID(href); event != "" {
					id = number + "-N" + event
				}
			}
			switch t.kind {
			case entity.KindSubmodule:
				out.Submodules = append(out.Submodules, entity.Submodule{
					Number: id, Name: name, CourseNumber: number, Registration: t.status,
				})
			case entity.KindModule:
				out.Modules = append(out.Modules, entity.Module{Number: id, Name: name, Registration: t.status})
			}
		})
	}
	return out, nil
}

// eventID returns the event id of a portal link: the third argument after
// the session number, as in -N599999999999999,-N000308,-N0,-N381865010228083.
func eventID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	args := strings.Split(u.Query().Get("ARGUMENTS"), ",")
	if len(args) < 4 {
		return ""
	}
	if m := eventArgRe.FindStringSubmatch(args[3]); m != nil {
		return m[1]
	}
	return ""
}
