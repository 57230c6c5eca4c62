package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/storage"
)

func exam(t *testing.T) entity.Value {
	t.Helper()
	f, err := entity.FieldsOf(map[string]interface{}{"number": "64-010", "name": "Mathematik I", "grade": "1,7", "extra": true})
	require.NoError(t, err)
	return entity.Value{Key: entity.NewKey(entity.KindExamResult, "64-010", entity.German), Level: entity.LevelSummary, Fields: f}
}

func TestPrintValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintValues(&buf, []entity.Value{exam(t)}, "kilcn", " | "))
	assert.Equal(t, "exam_result | 64-010 | de | summary | Mathematik I\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintValues(&buf, []entity.Value{exam(t)}, "f", ","))
	assert.Equal(t, "number=64-010 name=Mathematik I grade=1,7 extra=true\n", buf.String())

	assert.Error(t, PrintValues(&buf, []entity.Value{exam(t)}, "x", ","))
}

func TestPrintEvents(t *testing.T) {
	v := exam(t)
	var buf bytes.Buffer
	PrintEvents(&buf, []changes.Event{
		{Key: v.Key, Type: changes.FieldChanged, Field: "grade", Old: "-", New: "1,7", Entity: v},
		{Key: v.Key, Type: changes.Added, Entity: v},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `field_changed  exam_result/de/64-010  grade: "-" -> "1,7"`, lines[0])
	assert.Equal(t, "added          exam_result/de/64-010  Mathematik I", lines[1])
}

func TestChangeRendersMultiLineDiff(t *testing.T) {
	out := Change("instructors", "Dr. A\nDr. B\n", "Dr. A\nDr. C\n")
	assert.True(t, strings.HasPrefix(out, "\n--- instructors (old)\n+++ instructors (new)\n"), out)
	assert.Contains(t, out, "-Dr. B")
	assert.Contains(t, out, "+Dr. C")

	assert.Equal(t, `"a" -> "b"`, Change("grade", "a", "b"))
}

func TestPrintChanges(t *testing.T) {
	at := time.Date(2022, 9, 1, 8, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	PrintChanges(&buf, []storage.Change{
		{OccurredAt: at, Kind: "document", Language: "de", EntityID: "OnlineZahlträger", ChangeType: "removed"},
		{OccurredAt: at, Kind: "exam_result", Language: "de", EntityID: "64-010", ChangeType: "field_changed", Field: "grade", OldValue: "-", NewValue: "1,7"},
	})
	assert.Equal(t,
		"2022-09-01 08:00:00  removed        document/de/OnlineZahlträger\n"+
			"2022-09-01 08:00:00  field_changed  exam_result/de/64-010  grade: \"-\" -> \"1,7\"\n",
		buf.String())
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	PrintValue(&buf, exam(t))
	assert.Equal(t, "exam_result/de/64-010  (summary)\n  number  64-010\n  name    Mathematik I\n  grade   1,7\n", buf.String())
}

func TestPrintValueDrawsGradeDistribution(t *testing.T) {
	f, err := entity.FieldsOf(map[string]interface{}{
		"number": "64-010",
		"grade_distribution": []map[string]interface{}{
			{"grade": 1.0, "count": 10}, {"grade": 1.3, "count": 5}, {"grade": 5.0, "count": 0},
		},
	})
	require.NoError(t, err)
	v := entity.Value{Key: entity.NewKey(entity.KindExamResult, "64-010", entity.German), Level: entity.LevelFull, Fields: f}

	var buf bytes.Buffer
	PrintValue(&buf, v)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "  number              64-010", lines[1])
	assert.Equal(t, "  grade_distribution", lines[2])
	assert.Equal(t, "    1.0    10  "+strings.Repeat("#", 30), lines[3])
	assert.Equal(t, "    1.3     5  "+strings.Repeat("#", 15), lines[4])
	assert.Equal(t, "    5.0     0  ", lines[5])
}
