package provisionapp

import (
	"context"
	"testing"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/infrastructure/odoo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bomHeader = "bom_id;bom_name;product_code;product_qty;component_code;component_qty;sequence"

func linesOf(lines []odoo.Record, bomID int64) []odoo.Record {
	var out []odoo.Record
	for _, l := range lines {
		if l.Many2OneID("bom_id") == bomID {
			out = append(out, l)
		}
	}
	return out
}

func TestBOMLoader_Run(t *testing.T) {
	env := newTestEnv(t)
	drone := env.server.Seed(modelTemplate, map[string]any{"default_code": "100.1.000", "name": "Drohne"})
	frame := env.server.Seed(modelTemplate, map[string]any{"default_code": "101.1.000", "name": "Rahmen"})
	env.server.Seed(modelTemplate, map[string]any{"default_code": "102.1.000", "name": "Gehäuse"})
	propeller := env.server.Seed(modelVariant, map[string]any{"default_code": "001.1.000"})
	motor := env.server.Seed(modelVariant, map[string]any{"default_code": "002.1.000"})
	env.server.Seed(modelVariant, map[string]any{"default_code": "003.1.000"})
	units := env.server.Seed("uom.uom", map[string]any{"name": "Units"})

	frameBOM := env.server.Seed(modelBOM, map[string]any{"product_tmpl_id": frame, "product_qty": 1.0})
	stale := env.server.Seed(modelBOMLine, map[string]any{"bom_id": frameBOM, "product_id": motor})

	env.writeFile(t, BOMCSV,
		bomHeader,
		"B1;Drohne;100.1.000;1;001.1.000;4;10",
		"B1;Drohne;100.1.000;1;002.1.000;4;20",
		"B1;Drohne;100.1.000;1;001.1.000;2;30",
		"B1;Drohne;100.1.000;1;999.9.999;1;",
		"B1;Drohne;100.1.000;1;003.1.000;0;",
		"B1;Drohne;100.1.000;1;;1;",
		"B2;Rahmen;101.1.000;2;001.1.000;;",
		"B3;Fehlt;555.5.555;1;001.1.000;1;",
		"B4;Gehäuse;102.1.000;abc;001.1.000;1;",
	)

	loader := NewBOMLoader(env.deps())
	res, err := loader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, provisioning.StepStatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Stats["bom_created"])
	assert.Equal(t, 1, res.Stats["bom_updated"])
	assert.Equal(t, 2, res.Stats["bom_skipped"])
	assert.Equal(t, 3, res.Stats["bom_line_created"])
	assert.Equal(t, 4, res.Stats["bom_line_skipped"])
	assert.Equal(t, 1, res.Stats["errors_product_not_found"])
	assert.Equal(t, 1, res.Stats["errors_component_not_found"])
	assert.Equal(t, 2, res.Stats["errors_invalid_quantity"])
	assert.Equal(t, 0, res.Stats["errors"])

	droneBOM := env.byField(modelBOM, "product_tmpl_id", drone)
	require.NotNil(t, droneBOM)
	assert.Equal(t, "normal", droneBOM.String("type"))
	assert.Equal(t, units, droneBOM.Many2OneID("product_uom_id"))

	all := env.server.Records(modelBOMLine)
	droneLines := linesOf(all, droneBOM.ID())
	require.Len(t, droneLines, 2)
	assert.Equal(t, propeller, droneLines[0].Many2OneID("product_id"))
	assert.InDelta(t, 4.0, droneLines[0].Float("product_qty"), 0.001)
	assert.Equal(t, int64(10), droneLines[0].Int("sequence"))
	assert.Equal(t, motor, droneLines[1].Many2OneID("product_id"))
	assert.Equal(t, int64(20), droneLines[1].Int("sequence"))

	assert.InDelta(t, 2.0, env.server.Get(modelBOM, frameBOM).Float("product_qty"), 0.001)
	assert.Nil(t, env.server.Get(modelBOMLine, stale), "existing lines are replaced")
	frameLines := linesOf(all, frameBOM)
	require.Len(t, frameLines, 1)
	assert.Equal(t, propeller, frameLines[0].Many2OneID("product_id"))
	assert.InDelta(t, 1.0, frameLines[0].Float("product_qty"), 0.001)
	assert.Equal(t, int64(defaultSequence), frameLines[0].Int("sequence"))

	assert.Len(t, env.server.Records(modelBOM), 2)
}

func TestBOMLoader_RerunKeepsOneSetOfLines(t *testing.T) {
	env := newTestEnv(t)
	env.server.Seed(modelTemplate, map[string]any{"default_code": "100.1.000"})
	env.server.Seed(modelVariant, map[string]any{"default_code": "001.1.000"})
	env.writeFile(t, BOMCSV, bomHeader, "B1;Drohne;100.1.000;1;001.1.000;4;")
	deps := env.deps()

	_, err := NewBOMLoader(deps).Run(context.Background())
	require.NoError(t, err)
	res, err := NewBOMLoader(deps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats["bom_updated"])
	assert.Len(t, env.server.Records(modelBOM), 1)
	assert.Len(t, env.server.Records(modelBOMLine), 1)
}

func TestBOMLoader_FailedBatchIsCounted(t *testing.T) {
	env := newTestEnv(t)
	env.server.Seed(modelTemplate, map[string]any{"default_code": "100.1.000"})
	env.server.Seed(modelVariant, map[string]any{"default_code": "001.1.000"})
	env.server.FailNext(modelBOMLine, "create", &odoo.Fault{Code: 2, Message: "odoo.exceptions.RecordError: bad line"})
	env.writeFile(t, BOMCSV, bomHeader, "B1;Drohne;100.1.000;1;001.1.000;4;")

	res, err := NewBOMLoader(env.deps()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats["errors"])
	assert.Equal(t, 0, res.Stats["bom_line_created"])
}

func TestBOMLoader_HeaderOnly(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, BOMCSV, bomHeader)

	res, err := NewBOMLoader(env.deps()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provisioning.StepStatusSkipped, res.Status)
}

func TestLineSequence(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 10},
		{"5", 5},
		{"0", 10},
		{"x", 10},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, lineSequence(tt.raw))
		})
	}
}
