package aggregate

import (
	"time"

	"github.com/verte-zerg/panier/internal/model"
)

// Option configures an Engine.
type Option func(*Engine)

// WithCSPs sets the known CSP values in display order.
func WithCSPs(csps []string) Option {
	return func(e *Engine) {
		if len(csps) > 0 {
			e.csps = append([]string(nil), csps...)
		}
	}
}

// WithCategories sets the known category codes. They are always emitted,
// zero-filled, ahead of any unknown code.
func WithCategories(categories []string) Option {
	return func(e *Engine) {
		if len(categories) > 0 {
			e.categories = append([]string(nil), categories...)
		}
	}
}

// WithLocation sets the time zone used to derive months and hours.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func applyOptions(opts []Option) *Engine {
	e := &Engine{
		csps:       append([]string(nil), model.DefaultCSPs...),
		categories: append([]string(nil), model.DefaultCategories...),
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
