package provisionapp

import (
	"context"
	"testing"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupplierInfoLoader_Run(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.server.Seed(modelTemplate, map[string]any{"default_code": "001.1.000", "name": "Propeller"})
	p2 := env.server.Seed(modelTemplate, map[string]any{"default_code": "002.1.000", "name": "Motor"})
	motors := env.server.Seed(modelPartner, map[string]any{"name": "Motoren AG", "supplier_rank": 1})
	env.server.Seed("res.currency", map[string]any{"name": "USD"})
	eur := env.server.Seed("res.currency", map[string]any{"name": "EUR"})
	env.writeFile(t, SupplierMappingCSV, "supplier_id,supplier_name", "SUP-1,Motoren AG")
	env.writeFile(t, SupplierInfoCSVCandidates[0],
		"product_tmpl_id/default_code,name/id,price,min_qty,sequence",
		"001.1.000,SUP-1,12.50,5,1",
		"002.1.000,Motoren AG,3,,",
		"999.9.999,Motoren AG,1,,",
		"001.1.000,Niemand,1,,",
		"002.1.000,Motoren AG,0,,",
		"002.1.000,Motoren AG,2,-1,",
		",Motoren AG,2,,",
		"001.1.000,Motoren AG,11,10,2",
	)

	loader := NewSupplierInfoLoader(env.deps())
	res, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, provisioning.StepStatusSucceeded, res.Status)
	assert.Equal(t, 8, res.Stats["rows_processed"])
	assert.Equal(t, 2, res.Stats["supplierinfo_created"])
	assert.Equal(t, 1, res.Stats["supplierinfo_updated"])
	assert.Equal(t, 5, res.Stats["rows_skipped"])
	assert.Equal(t, 1, res.Stats["errors_product_not_found"])
	assert.Equal(t, 1, res.Stats["errors_supplier_not_found"])
	assert.Equal(t, 1, res.Stats["errors_invalid_price"])
	assert.Equal(t, 1, res.Stats["errors_invalid_qty"])

	infos := env.server.Records(modelSupplierInfo)
	require.Len(t, infos, 2)
	first := infos[0]
	assert.Equal(t, p1, first.Many2OneID("product_tmpl_id"))
	assert.Equal(t, motors, first.Many2OneID("partner_id"))
	assert.InDelta(t, 11.0, first.Float("price"), 0.001)
	assert.InDelta(t, 10.0, first.Float("min_qty"), 0.001)
	assert.Equal(t, int64(2), first.Int("sequence"))
	assert.Equal(t, eur, first.Many2OneID("currency_id"))

	second := infos[1]
	assert.Equal(t, p2, second.Many2OneID("product_tmpl_id"))
	assert.InDelta(t, 1.0, second.Float("min_qty"), 0.001)
	assert.Equal(t, int64(defaultSupplierInfoSequence), second.Int("sequence"))

	assert.Equal(t, 4, loader.RowErrors().TotalCount())
}

func TestSupplierInfoLoader_NoFile(t *testing.T) {
	env := newTestEnv(t)
	res, err := NewSupplierInfoLoader(env.deps()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provisioning.StepStatusSkipped, res.Status)
	assert.Equal(t, 0, env.server.CallCount("res.currency", "search"))
}
