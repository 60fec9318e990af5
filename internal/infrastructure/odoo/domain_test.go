package odoo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomain(t *testing.T) {
	d := Where("default_code", "=", "029.3.000").And("active", "=", true)
	assert.Equal(t, Domain{
		[]any{"default_code", "=", "029.3.000"},
		[]any{"active", "=", true},
	}, d)

	or := Or(Where("company_id", "=", int64(1)), Where("company_id", "=", false))
	assert.Equal(t, Domain{"|", []any{"company_id", "=", int64(1)}, []any{"company_id", "=", false}}, or)

	grouped := Or(Where("a", "=", 1).And("b", "=", 2), Where("c", "=", 3))
	assert.Equal(t, Domain{"|", "&", []any{"a", "=", 1}, []any{"b", "=", 2}, []any{"c", "=", 3}}, grouped)

	scoped := Where("code", "=", "mrp.production").AndDomain(or)
	assert.Equal(t, Domain{
		[]any{"code", "=", "mrp.production"},
		"|", []any{"company_id", "=", int64(1)}, []any{"company_id", "=", false},
	}, scoped)

	nested := Or(Domain{"|", []any{"a", "=", 1}, []any{"b", "=", 2}}, Where("c", "=", 3))
	assert.Equal(t, Domain{"|", "|", []any{"a", "=", 1}, []any{"b", "=", 2}, []any{"c", "=", 3}}, nested)
}

func TestValues_Merge(t *testing.T) {
	base := Values{"name": "Haube", "type": "consu"}
	merged := base.Merge(Values{"type": "product"})

	assert.Equal(t, "product", merged["type"])
	assert.Equal(t, "consu", base["type"])
}

func TestValueDecoding(t *testing.T) {
	assert.Equal(t, int64(5), AsInt(int64(5)))
	assert.Equal(t, int64(5), AsInt(json.Number("5")))
	assert.Equal(t, int64(7), AsInt([]any{int64(7), "Acme"}))
	assert.Equal(t, int64(0), AsInt(false))
	assert.Equal(t, 2.5, AsFloat(json.Number("2.5")))
	assert.Equal(t, "", AsString(false))
	assert.Equal(t, []int64{1, 2}, AsIDs([]any{json.Number("1"), int64(2)}))
	assert.Equal(t, []int64{9}, AsIDs(int64(9)))
	assert.Nil(t, AsIDs(false))

	rec := Record{"id": int64(3), "partner_id": []any{int64(8), "Acme"}, "date_done": "2026-03-01 10:00:00"}
	assert.Equal(t, int64(3), rec.ID())
	assert.Equal(t, int64(8), rec.Many2OneID("partner_id"))
	assert.Equal(t, "Acme", rec.Many2OneName("partner_id"))

	ts, ok := rec.Time("date_done")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ts)

	_, ok = ParseDateTime(false)
	assert.False(t, ok)
	ts, ok = ParseDateTime("2026-03-01T10:00:00+02:00")
	assert.True(t, ok)
	assert.Equal(t, 8, ts.Hour())
	assert.Equal(t, "2026-03-01 08:00:00", FormatDateTime(ts))
}

func TestCallLog(t *testing.T) {
	log := NewCallLog(2)
	log.RecordCall(CallEntry{Status: StatusRetry})
	log.RecordCall(CallEntry{Status: StatusFailed})
	log.RecordCall(CallEntry{Status: StatusSuccess})

	total, failed := log.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, failed)
	assert.Len(t, log.Entries(), 2)
	assert.Equal(t, StatusFailed, log.Entries()[0].Status)
}
