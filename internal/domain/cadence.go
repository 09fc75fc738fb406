package domain

import (
	"fmt"
	"strings"
)

// Cadence is a recipient's digest frequency.
type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

// Cadences lists every supported cadence in ascending period order.
var Cadences = []Cadence{CadenceDaily, CadenceWeekly, CadenceMonthly}

// IsValid reports whether c is one of the supported cadences.
func (c Cadence) IsValid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// ParseCadence normalises s to a Cadence. Matching is case-insensitive and an
// empty string yields DAILY, the registration default.
func ParseCadence(s string) (Cadence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CadenceDaily, nil
	}
	c := Cadence(strings.ToUpper(s))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCadence, s)
	}
	return c, nil
}
