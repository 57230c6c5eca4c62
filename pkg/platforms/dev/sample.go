package dev

import (
	"time"

	"github.com/stine-notifier/stine/pkg/entity"
)

// NewSample returns a Fetcher preloaded with a small deterministic account:
// two documents, the registration periods of a winter semester, three exam
// results and the module registrations of that semester, in both languages.
func NewSample(now time.Time) *Fetcher {
	f := New()
	for _, lang := range []entity.Language{entity.English, entity.German} {
		for _, v := range sampleValues(lang, now) {
			f.Put(v)
		}
	}
	return f
}

func sampleValues(lang entity.Language, now time.Time) []entity.Value {
	de := lang == entity.German
	pick := func(en, ger string) string {
		if de {
			return ger
		}
		return en
	}
	semester := "WiSe 22/23"
	passed := pick("passed", "bestanden")

	var out []entity.Value
	add := func(kind entity.Kind, id string, fields map[string]interface{}) {
		f, err := entity.FieldsOf(fields)
		if err != nil {
			panic(err)
		}
		out = append(out, entity.Value{Key: entity.NewKey(kind, id, lang), Level: entity.LevelFull, Fields: f})
	}

	add(entity.KindDocument, "OnlineSemesterbescheinigung", map[string]interface{}{
		"name": "OnlineSemesterbescheinigung", "issued_at": "2022-08-23T12:46:00Z", "status": nil,
		"download": "/scripts/filetransfer.exe?OnlineSemesterbescheinigung",
	})
	add(entity.KindDocument, "OnlineZahlträger", map[string]interface{}{
		"name": "OnlineZahlträger", "issued_at": "2022-08-01T16:24:00Z", "status": nil,
		"download": "/scripts/filetransfer.exe?OnlineZahltraeger",
	})

	periods := []struct {
		id, ger    string
		start, end time.Duration
	}{
		{"Early registration period", "Vorgezogene Phase", -30 * 24 * time.Hour, -20 * 24 * time.Hour},
		{"General registration period", "Anmeldephase", -2 * 24 * time.Hour, 12 * 24 * time.Hour},
		{"Late registration period", "Nachmeldephase", 20 * 24 * time.Hour, 23 * 24 * time.Hour},
	}
	base := now.UTC().Truncate(time.Hour)
	for _, p := range periods {
		start, end := base.Add(p.start), base.Add(p.end)
		add(entity.KindRegistrationPeriod, p.id, map[string]interface{}{
			"name": pick(p.id, p.ger), "start": start, "end": end,
			"state": entity.PeriodState(start, end, now),
		})
	}

	exams := []struct {
		number, name, grade, status string
		average                     float64
	}{
		{"64-010", "Mathematik I", "1,7", passed, 2.41},
		{"64-030", pick("Software Development I", "Softwareentwicklung I"), "2,3", passed, 2.87},
		{"64-050", pick("Foundations of Databases", "Grundlagen von Datenbanken"), "-", "", 0},
	}
	for i, e := range exams {
		fields := map[string]interface{}{
			"number": e.number, "name": e.name, "grade": e.grade, "credits": "9,0",
			"status": e.status, "semester": semester, "course_id": "38186501022808" + string(rune('0'+i)),
			"grade_average": nil, "available_results": nil,
			"grade_distribution": nil, "differing_gs_results": nil, "missing_ill": nil,
			"missing_excused": nil, "missing_canceled": nil, "missing_without_reason": nil,
		}
		if e.average > 0 {
			fields["grade_average"] = e.average
			fields["available_results"] = 112
			fields["grade_distribution"] = []entity.GradeCount{{Grade: 1.0, Count: 9}, {Grade: 1.7, Count: 21}, {Grade: 2.3, Count: 30}, {Grade: 5.0, Count: 12}}
			fields["differing_gs_results"] = 0
			fields["missing_ill"] = 4
			fields["missing_excused"] = 0
			fields["missing_canceled"] = 0
			fields["missing_without_reason"] = 17
		}
		add(entity.KindExamResult, e.number, fields)
	}

	submodules := []struct {
		number, course, name, registration string
	}{
		{"64-040-N381865010228083", "64-040", pick("Lecture Mathematics I", "Vorlesung Mathematik I"), entity.RegistrationAccepted},
		{"64-041-N381865010261084", "64-041", pick("Exercise Mathematics I", "Übung Mathematik I"), entity.RegistrationAccepted},
		{"64-041-N381865010261085", "64-041", pick("Exercise Mathematics I", "Übung Mathematik I"), entity.RegistrationPending},
	}
	for _, sm := range submodules {
		add(entity.KindSubmodule, sm.number, map[string]interface{}{
			"number": sm.number, "name": sm.name, "course_number": sm.course, "registration": sm.registration,
		})
	}
	add(entity.KindModule, "InfB-MG1-N381865010200011", map[string]interface{}{
		"number": "InfB-MG1-N381865010200011", "name": pick("Mathematical Foundations 1", "Mathematische Grundlagen 1"),
		"registration": entity.RegistrationAccepted,
	})
	return out
}
