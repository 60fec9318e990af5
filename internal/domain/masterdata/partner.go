package masterdata

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var genericNames = map[string]bool{
	"unnamed":  true,
	"unknown":  true,
	"supplier": true,
	"vendor":   true,
}

// ValidateSupplierName rejects empty, generic, too short and too long names
func ValidateSupplierName(name string) error {
	name = strings.TrimSpace(name)
	if genericNames[strings.ToLower(name)] {
		return fmt.Errorf("generic supplier name %q", name)
	}
	if err := validate.Var(name, "required,min=2,max=255"); err != nil {
		return fmt.Errorf("invalid supplier name %q", name)
	}
	return nil
}

// ValidEmail is a loose check: 5..254 chars containing "@" and "."
func ValidEmail(email string) bool {
	return validate.Var(strings.TrimSpace(email), "min=5,max=254,contains=@,contains=.") == nil
}

// ValidStrictEmail checks the address against RFC 5322, used for sender addresses
func ValidStrictEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// ValidPhone accepts 5..20 chars
func ValidPhone(phone string) bool {
	return validate.Var(strings.TrimSpace(phone), "min=5,max=20") == nil
}
