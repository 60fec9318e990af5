package masterdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductTypeFor(t *testing.T) {
	tests := []struct {
		kind string
		want ProductType
	}{
		{"Kaufartikel", ProductTypeConsumable},
		{"Lagerartikel", ProductTypeConsumable},
		{"Rohstoff", ProductTypeConsumable},
		{"Eigenfertigung", ProductTypeService},
		{"Baugruppe", ProductTypeStorable},
		{" Baugruppe ", ProductTypeStorable},
		{"Sonderteil", ProductTypeConsumable},
		{"", ProductTypeConsumable},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, ProductTypeFor(tt.kind))
		})
	}
}

func TestPurchasable(t *testing.T) {
	assert.False(t, Purchasable("Eigenfertigung"))
	assert.True(t, Purchasable("Kaufartikel"))
	assert.True(t, Purchasable(""))
}

func TestFixWarehouseID(t *testing.T) {
	got, fixed := FixWarehouseID("008.1.00")
	assert.True(t, fixed)
	assert.Equal(t, "008.1.000", got)

	got, fixed = FixWarehouseID("59 g")
	assert.True(t, fixed)
	assert.Equal(t, "019.1.000", got)

	got, fixed = FixWarehouseID("010.1.000")
	assert.False(t, fixed)
	assert.Equal(t, "010.1.000", got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Löt", Truncate("Lötstation", 3))
	assert.Equal(t, "short", Truncate("short", 64))
	assert.Equal(t, "", Truncate("anything", 0))
}

func TestTechnicalName(t *testing.T) {
	assert.Equal(t, "manual", TechnicalName("Manual"))
	assert.Equal(t, "visual_inspection", TechnicalName("Visual  Inspection"))
	assert.Equal(t, "pass_fail", TechnicalName("Pass/Fail!"))
}

func TestLegacyCodesAreUnique(t *testing.T) {
	seen := make(map[string]bool, len(LegacyCodes))
	for _, c := range LegacyCodes {
		assert.False(t, seen[c], "duplicate legacy code %s", c)
		seen[c] = true
	}
}
