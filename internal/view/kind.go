package view

import (
	"fmt"
	"strings"
)

// Kind identifies a dashboard view.
type Kind string

const (
	Overview      Kind = "overview"
	CSPByCategory Kind = "csp-by-category"
	CategoryByCSP Kind = "category-by-csp"
	AverageBasket Kind = "average-basket"
	PeakTimes     Kind = "peak-times"
)

// Kinds lists every view in navigation order.
var Kinds = []Kind{Overview, CSPByCategory, CategoryByCSP, AverageBasket, PeakTimes}

// ParseKind validates a view name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Title returns the navigation label of the view.
func (k Kind) Title() string {
	switch k {
	case Overview:
		return "Accueil"
	case CSPByCategory:
		return "CSP par catégorie"
	case CategoryByCSP:
		return "Catégorie par CSP"
	case AverageBasket:
		return "Panier moyen"
	case PeakTimes:
		return "Heures d'affluence"
	}
	return string(k)
}

// ServerFiltered reports whether the view sends its filter to the backend
// and must refetch when the filter changes.
func (k Kind) ServerFiltered() bool {
	return k == PeakTimes
}
