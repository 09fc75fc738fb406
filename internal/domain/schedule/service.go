package schedule

import (
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
)

// Calculator computes next delivery instants. It exists so callers can inject
// a fixed schedule in tests; production code uses NewCalculator.
type Calculator interface {
	// NextDelivery returns the next due instant for cadence relative to ref.
	NextDelivery(cadence domain.Cadence, ref time.Time) time.Time
}

type defaultCalculator struct{}

// NewCalculator returns the calendar-based calculator.
func NewCalculator() Calculator {
	return defaultCalculator{}
}

func (defaultCalculator) NextDelivery(cadence domain.Cadence, ref time.Time) time.Time {
	return NextDelivery(cadence, ref)
}
