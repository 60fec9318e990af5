package masterdata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSupplierName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Conrad Electronic SE", false},
		{"two chars", "AB", false},
		{"single char", "A", true},
		{"empty", "", true},
		{"generic", "Unknown", true},
		{"generic vendor", "vendor", true},
		{"too long", strings.Repeat("x", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSupplierName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("info@conrad.de"))
	assert.False(t, ValidEmail("a@b"))
	assert.False(t, ValidEmail("no-at-sign.de"))
	assert.False(t, ValidEmail(""))
}

func TestValidStrictEmail(t *testing.T) {
	assert.True(t, ValidStrictEmail("noreply@drohnen.example"))
	assert.False(t, ValidStrictEmail("not an email"))
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("+49 911 1234"))
	assert.False(t, ValidPhone("123"))
	assert.False(t, ValidPhone(strings.Repeat("1", 21)))
}

func TestTracking(t *testing.T) {
	for _, v := range []Tracking{TrackingSerial, TrackingLot, TrackingNone} {
		assert.True(t, v.IsValid())
	}
	assert.False(t, Tracking("batch").IsValid())
}
