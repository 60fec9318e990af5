package masterdata

import (
	"strings"
	"unicode"
)

// ProductType is the ERP's product.template type
type ProductType string

const (
	ProductTypeConsumable ProductType = "consu"
	ProductTypeService    ProductType = "service"
	ProductTypeStorable   ProductType = "product"
)

// ArticleKindInHouse is the article kind for parts made in-house; they are not purchasable.
const ArticleKindInHouse = "Eigenfertigung"

var articleTypes = map[string]ProductType{
	"Kaufartikel":      ProductTypeConsumable,
	"Lagerartikel":     ProductTypeConsumable,
	"Rohstoff":         ProductTypeConsumable,
	ArticleKindInHouse: ProductTypeService,
	"Baugruppe":        ProductTypeStorable,
	"consu":            ProductTypeConsumable,
	"service":          ProductTypeService,
	"product":          ProductTypeStorable,
}

// ProductTypeFor maps an article kind (Artikelart) to a product type.
// Unknown kinds are consumables.
func ProductTypeFor(articleKind string) ProductType {
	if t, ok := articleTypes[strings.TrimSpace(articleKind)]; ok {
		return t
	}
	return ProductTypeConsumable
}

// Purchasable reports whether products of the article kind can be bought
func Purchasable(articleKind string) bool {
	return strings.TrimSpace(articleKind) != ArticleKindInHouse
}

// InternalSupplierName is the partner every imported product is sourced from
const InternalSupplierName = "Drohnen GmbH Internal"

// DefaultUoMName is the unit of measure of imported products
const DefaultUoMName = "Stueck"

var warehouseIDFixes = map[string]string{
	"008.1.00": "008.1.000",
	"59 g":     "019.1.000",
}

// FixWarehouseID corrects known typos in structure list codes and reports
// whether it changed the input.
func FixWarehouseID(id string) (string, bool) {
	if fixed, ok := warehouseIDFixes[id]; ok {
		return fixed, true
	}
	return id, false
}

// LegacyCodes are the pre-migration default codes that get archived once a
// product with the same name and a new code exists.
var LegacyCodes = []string{
	"22", "15", "67", "74", "21", "16", "17", "25", "24", "62",
	"61", "63", "64", "66", "54", "14", "08", "18", "19", "20",
	"L_23", "L_24", "L_25", "L_26", "L_27",
	"R_23", "R_24", "R_25",
	"V_WHITE_13", "V_WHITE_14", "V_WHITE_15",
	"V_BLUE_31", "V_BLUE_32", "V_BLUE_33",
	"V_BLACK_75", "V_BLACK_76",
	"V_RED_45", "V_RED_46",
	"H_001", "H_002", "H_003", "H_004", "H_005",
	"F_SMALL_01", "F_SMALL_02", "F_LARGE_02", "F_LARGE_03", "F_MEDIUM_03",
	"G_BLUE_11", "G_GREEN_21", "G_YELLOW_35", "G_RED_42",
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// TechnicalName turns a display name into a snake_case identifier
func TechnicalName(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
