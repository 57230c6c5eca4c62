package stine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
)

const documentsPage = `<html lang="en"><body>
<table class="tb">
    <tbody><tr>
        <td class="tbhead">Name</td>
        <td class="tbhead">Date</td>
        <td class="tbhead">Time</td>
        <td class="tbhead">Status</td>
        <td class="tbhead">&nbsp;</td>
    </tr>
    <tr>
        <td class="tbdata">OnlineSemesterbescheinigung</td>
        <td class="tbdata">23.08.22</td>
        <td class="tbdata">14:46</td>
        <td class="tbdata"></td>
        <td class="tbdata"><a class="img download" href="/scripts/filetransfer.exe?LINK">Download</a></td>
    </tr>
    <tr>
        <td class="tbdata">OnlineZahlträger</td>
        <td class="tbdata">01.08.22</td>
        <td class="tbdata">18:24</td>
        <td class="tbdata">bezahlt</td>
        <td class="tbdata"></td>
    </tr>
    </tbody>
</table></body></html>`

const periodsPageEN = `<html lang="en"><body>
<div id="contentSpacer_IE">
<table style="width:700px;" height="150">
     <tbody><tr>
        <td>Early registration period</td>
        <td>Mon, 20 June 2022, 9 am to Thu, 30 June 2022 , 1 pm</td>
      </tr>
      <tr>
        <td>General registration period</td>
        <td>Thu, 1 September 2022, 9 am to Thu, 22 September 2022, 1 pm</td>
      </tr>
      <tr>
        <td>Registration period for first-semester students</td>
        <td>Mon, 10 October 2022, 9 am to Thu, 13 October 2022, 4 pm</td>
      </tr>
    </tbody>
</table>
</div></body></html>`

const periodsPageDE = `<html lang="de"><body>
<div id="contentSpacer_IE">
<table><tbody>
      <tr>
        <td>Vorgezogene Phase</td>
        <td>Mo, 20.06.22, 09:00 Uhr - Do, 30.06.22, 13:00 Uhr</td>
      </tr>
      <tr>
        <td>Anmeldephase</td>
        <td>Do, 01.09.22 09:00 Uhr - Do, 22.09.22 13:00 Uhr</td>
      </tr>
      <tr>
        <td>Erstsemester</td>
        <td>Mo, 10.10.22, 09:00 Uhr - Do, 13.10.22, 16:00 Uhr</td>
      </tr>
</tbody></table>
</div></body></html>`

const resultsIndexPage = `<html lang="en"><body>
<select id="semester" name="semester">
  <option value="999">All semesters</option>
  <option value="000000015186000">WiSe 22/23</option>
  <option value="000000015176000">SoSe 22</option>
</select></body></html>`

const resultsWinterPage = `<html lang="en"><body>
<table class="nb">
<thead><tr><th>No.</th><th>Course</th><th>Grade</th><th>Credits</th><th>Status</th><th></th><th></th></tr></thead>
<tbody>
<tr>
  <td>64-010</td><td>Mathematik I</td><td>1,7</td><td>9,0</td><td>passed</td><td></td>
  <td><script>dl_popUp("/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=GRADEOVERVIEW&ARGUMENTS=-N599999999999999,-N000460,-AMOFF,-N381865010228080,-N0,-N000000000000000","Grades",600,400)</script></td>
</tr>
<tr>
  <td>64-050</td><td>Foundations of Databases</td><td>&nbsp;</td><td>&nbsp;</td><td>&nbsp;</td><td></td><td></td>
</tr>
<tr><th></th><th>Semester GPA</th><th>1,7</th><th>9,0</th><th></th><th></th><th></th></tr>
</tbody></table></body></html>`

const resultsSummerPage = `<html lang="en"><body>
<table class="nb">
<thead><tr><th>No.</th></tr></thead>
<tbody>
<tr>
  <td>64-010</td><td>Mathematik I</td><td>5,0</td><td>0,0</td><td>failed</td><td></td><td></td>
</tr>
<tr>
  <td>64-030</td><td>Software Development I</td><td>2,3</td><td>9,0</td><td>passed</td><td></td>
  <td><script>dl_popUp("/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=GRADEOVERVIEW&ARGUMENTS=-N599999999999999,-N000460,-AMOFF,-N381865010228081,-N0,-N000000000000000","Grades",600,400)</script></td>
</tr>
</tbody></table></body></html>`

const gradeStatsPage = `<html lang="de"><body>
<table class="nb"><tbody>
<tr><td>1,0</td><td>1,7</td><td>2,3</td><td>5,0</td></tr>
<tr><td>9</td><td>21</td><td>30</td><td>12</td></tr>
</tbody></table>
<table class="tb"><tbody>
<tr><td class="tbdata">Durchschnitt: 2,41</td></tr>
<tr><td class="tbdata">Vorliegende Ergebnisse: 112</td></tr>
<tr><td class="tbdata">Ergebnisse mit abweichendem BWS: 0</td></tr>
<tr><td class="tbdata">Fehlend (krank): 4</td></tr>
<tr><td class="tbdata">Fehlend (entschuldigt): 0</td></tr>
<tr><td class="tbdata">Fehlend (ohne Grund): 17</td></tr>
<tr><td class="tbdata">Fehlend (annulliert): 1</td></tr>
<tr><td class="tbdata">Fehlend (sonstiges): 3</td></tr>
</tbody></table></body></html>`

const registrationsPage = `<html lang="de"><body>
<table class="tbcoursestatus"><tbody>
<tr><th>Veranstaltung</th><th>Status</th></tr>
<tr>
  <td><a href="/scripts/mgrqispi.dll?APPNAME=CampusNet&amp;PRGNAME=COURSEDETAILS&amp;ARGUMENTS=-N599999999999999,-N000308,-N0,-N381865010261084,-N381865010261084,-N0,-N0,-N3">64-041   Übung
      Mathematik I</a>
    <div class="dl-inner"><table><tbody><tr><td><a href="#">64-999 Gruppe 2</a></td></tr></tbody></table></div>
  </td>
  <td>vorgemerkt</td>
</tr>
</tbody></table>
<table class="tbcoursestatus"><tbody>
<tr><th>Veranstaltung</th><th>Status</th></tr>
<tr><td><a href="/scripts/mgrqispi.dll?APPNAME=CampusNet&amp;PRGNAME=COURSEDETAILS&amp;ARGUMENTS=-N599999999999999,-N000308,-N0,-N381865010228083,-N381865010228083,-N0,-N0,-N3">64-040 Vorlesung Mathematik I</a></td><td>zugelassen</td></tr>
<tr><td><a href="/scripts/mgrqispi.dll?APPNAME=CampusNet&amp;PRGNAME=COURSEDETAILS&amp;ARGUMENTS=-N599999999999999,-N000308,-N0,-N381865010261085,-N381865010261085,-N0,-N0,-N3">64-041 Übung Mathematik I</a></td><td>zugelassen</td></tr>
</tbody></table>
<table class="tbcoursestatus"><tbody>
<tr><th>Veranstaltung</th><th>Status</th></tr>
<tr><td><a href="/scripts/mgrqispi.dll?APPNAME=CampusNet&amp;PRGNAME=COURSEDETAILS&amp;ARGUMENTS=-N599999999999999,-N000308,-N0,-N381865010270001">64-100 Seminar Theoretische Informatik</a></td><td>abgelehnt</td></tr>
</tbody></table>
<table class="tbcoursestatus"><tbody>
<tr><th>Modul</th><th>Status</th></tr>
<tr><td><a href="/scripts/mgrqispi.dll?APPNAME=CampusNet&amp;PRGNAME=MODULEDETAILS&amp;ARGUMENTS=-N599999999999999,-N000308,-N0,-N381865010200011">InfB-MG1 Mathematische Grundlagen 1</a></td><td>zugelassen</td></tr>
<tr><td>Keine weiteren Module</td><td></td></tr>
</tbody></table>
</body></html>`

func hamburg(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, berlin).UTC()
}

func TestParseDocuments(t *testing.T) {
	docs, err := parseDocuments(documentsPage, BASE_URL)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "OnlineSemesterbescheinigung", docs[0].Name)
	assert.Equal(t, hamburg(2022, 8, 23, 14, 46), docs[0].IssuedAt)
	assert.Equal(t, time.Date(2022, 8, 23, 12, 46, 0, 0, time.UTC), docs[0].IssuedAt)
	assert.Nil(t, docs[0].Status)
	assert.Equal(t, "https://stine.uni-hamburg.de/scripts/filetransfer.exe?LINK", docs[0].Download)

	assert.Equal(t, "OnlineZahlträger", docs[1].Name)
	require.NotNil(t, docs[1].Status)
	assert.Equal(t, "bezahlt", *docs[1].Status)
	assert.Empty(t, docs[1].Download)
}

func TestParsePeriodsBothLanguages(t *testing.T) {
	en, enIDs, err := parsePeriods(periodsPageEN)
	require.NoError(t, err)
	de, deIDs, err := parsePeriods(periodsPageDE)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Early registration period",
		"General registration period",
		"Registration period for first-semester students",
	}, enIDs)
	assert.Equal(t, enIDs, deIDs)
	assert.Equal(t, "Vorgezogene Phase", de[0].Name)

	assert.Equal(t, hamburg(2022, 6, 20, 9, 0), en[0].Start)
	assert.Equal(t, hamburg(2022, 6, 30, 13, 0), en[0].End)
	assert.Equal(t, hamburg(2022, 10, 13, 16, 0), en[2].End)
	for i := range en {
		assert.Equal(t, en[i].Start, de[i].Start, "start of %s", enIDs[i])
		assert.Equal(t, en[i].End, de[i].End, "end of %s", enIDs[i])
	}
}

func TestParsePeriodTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 20 June 2022, 9 am", time.Date(2022, 6, 20, 7, 0, 0, 0, time.UTC)},
		{"Mo, 20.06.22, 09:00 Uhr", time.Date(2022, 6, 20, 7, 0, 0, 0, time.UTC)},
		{"Sat, 1 Jan 2022, 1 pm", time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"Sa, 01.01.22, 13:00 Uhr", time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"Thu, 30 June 2022 , 1 pm", time.Date(2022, 6, 30, 11, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parsePeriodTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parsePeriodTime("sometime soon")
	assert.ErrorIs(t, err, platforms.ErrParse)
	_, _, err = parsePeriod("Mon, 20 June 2022, 9 am")
	assert.ErrorIs(t, err, platforms.ErrParse)
}

func TestParseSemesterOptions(t *testing.T) {
	opts, err := parseSemesterOptions(resultsIndexPage)
	require.NoError(t, err)
	assert.Equal(t, []semesterOption{
		{Name: "WiSe 22/23", Value: "000000015186000"},
		{Name: "SoSe 22", Value: "000000015176000"},
	}, opts)
}

func TestParseSemesterResults(t *testing.T) {
	rows, err := parseSemesterResults(resultsWinterPage, "WiSe 22/23")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, entity.ExamResult{
		Number: "64-010", Name: "Mathematik I", Grade: "1,7", Credits: "9,0", Status: "passed",
		Semester: "WiSe 22/23", CourseID: "381865010228080",
	}, rows[0])
	assert.Equal(t, "64-050", rows[1].Number)
	assert.Empty(t, rows[1].Grade)
	assert.Empty(t, rows[1].CourseID)
	assert.False(t, rows[1].HasGrade())
}

func TestParseRegistrations(t *testing.T) {
	regs, err := parseRegistrations(registrationsPage)
	require.NoError(t, err)

	require.Len(t, regs.Submodules, 4)
	assert.Equal(t, entity.Submodule{
		Number: "64-041-N381865010261084", Name: "Übung Mathematik I", CourseNumber: "64-041",
		Registration: entity.RegistrationPending,
	}, regs.Submodules[0])
	assert.Equal(t, "64-040-N381865010228083", regs.Submodules[1].Number)
	assert.Equal(t, entity.RegistrationAccepted, regs.Submodules[1].Registration)
	assert.Equal(t, "64-041-N381865010261085", regs.Submodules[2].Number)
	assert.Equal(t, "64-100-N381865010270001", regs.Submodules[3].Number)
	assert.Equal(t, entity.RegistrationRejected, regs.Submodules[3].Registration)

	require.Len(t, regs.Modules, 1)
	assert.Equal(t, entity.Module{
		Number: "InfB-MG1-N381865010200011", Name: "Mathematische Grundlagen 1", Registration: entity.RegistrationAccepted,
	}, regs.Modules[0])

	// Two groups of one course are distinct entities with one identity.
	assert.Equal(t,
		entity.IdentityID(entity.KindSubmodule, regs.Submodules[0].Number),
		entity.IdentityID(entity.KindSubmodule, regs.Submodules[2].Number))
}

func TestParseRegistrationsLayout(t *testing.T) {
	_, err := parseRegistrations(`<html><body><h1>Meine Anmeldungen</h1></body></html>`)
	assert.ErrorIs(t, err, platforms.ErrParse)

	regs, err := parseRegistrations(`<html><body><table><tbody><tr><th>Veranstaltung</th></tr></tbody></table></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, regs.Submodules)
	assert.Empty(t, regs.Modules)
}

func TestEventID(t *testing.T) {
	const prefix = "/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=COURSEDETAILS&ARGUMENTS="
	assert.Equal(t, "42", eventID(prefix+"-N1,-N000308,-N0,-N42,-N42"))
	assert.Empty(t, eventID(prefix+"-N1,-N000308,-N0"))
	assert.Empty(t, eventID(prefix+"-N1,-N000308,-N0,-Afoo"))
	assert.Empty(t, eventID("#"))
}

func TestParseGradeStats(t *testing.T) {
	stats, err := parseGradeStats(gradeStatsPage)
	require.NoError(t, err)

	require.NotNil(t, stats.GradeAverage)
	assert.InDelta(t, 2.41, *stats.GradeAverage, 1e-9)
	assert.Equal(t, 112, *stats.AvailableResults)
	assert.Equal(t, 0, *stats.DifferingGSResults)
	assert.Equal(t, 4, *stats.MissingIll)
	assert.Equal(t, 0, *stats.MissingExcused)
	assert.Equal(t, 17, *stats.MissingWithoutReason)
	assert.Equal(t, 1, *stats.MissingCanceled)
	assert.Equal(t, []entity.GradeCount{{Grade: 1.0, Count: 9}, {Grade: 1.7, Count: 21}, {Grade: 2.3, Count: 30}, {Grade: 5.0, Count: 12}}, stats.GradeDistribution)
}

func TestParseGradeStatsEmptyPage(t *testing.T) {
	stats, err := parseGradeStats(`<html><body><p>No statistics</p></body></html>`)
	require.NoError(t, err)
	f, err := entity.FieldsOf(stats)
	require.NoError(t, err)
	for _, name := range []string{"grade_average", "grade_distribution", "missing_ill", "missing_canceled"} {
		assert.True(t, f.Has(name), name)
		assert.Equal(t, "null", f.Get(name).Raw, name)
	}
}

func TestCheckPage(t *testing.T) {
	tests := []struct {
		body string
		want error
	}{
		{"<h1>Kennung oder Kennwort falsch</h1>", platforms.ErrAuthFailed},
		{"<h1>Kennung oder Kennwort falsch - Zugang verweigert</h1>", platforms.ErrAuthFailed},
		{"<h1>Zugang verweigert</h1>", platforms.ErrAuthExpired},
		{"<h1>Timeout!</h1>", platforms.ErrAuthExpired},
		{"<h1>Timeout</h1>", platforms.ErrAuthExpired},
		{"<h1>Anmeldung zur Zeit nicht möglich</h1>", platforms.ErrNetwork},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, checkPage(tt.body), tt.want, tt.body)
	}
	assert.NoError(t, checkPage(documentsPage))
}
