package monitor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports a rejected control input. State is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseDecimal parses a user supplied number.
func ParseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return d, nil
}

// ParseSeconds parses a user supplied duration in seconds.
func ParseSeconds(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return v, nil
}
