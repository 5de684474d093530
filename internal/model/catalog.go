package model

import "fmt"

// Dimension keys used by aggregates and cross-tabs.
const (
	DimCSP      = "csp"
	DimCategory = "category"
	DimMonth    = "month"
	DimHour     = "hour"
)

// DefaultCSPs lists the socio-professional categories in display order.
var DefaultCSPs = []string{
	"Employes",
	"Commercants",
	"Etudiants",
	"Agriculteurs",
	"Retraites",
	"Autres",
}

// DefaultCategories lists the purchase category codes.
var DefaultCategories = []string{"1", "2", "3", "4", "5"}

// CategoryLabel returns the display label for a category code.
func CategoryLabel(code string) string {
	if code == "" {
		return "(none)"
	}
	return fmt.Sprintf("Catégorie %s", code)
}

// CSPLabel returns the display label for a CSP value.
func CSPLabel(csp string) string {
	if csp == "" {
		return "(none)"
	}
	return csp
}
