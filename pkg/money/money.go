package money

import (
	"errors"
	"fmt"
	"math"
)

// Common amount conversion errors.
var (
	// ErrInvalidAmount is returned when an amount is zero, negative, or not a
	// finite number
	ErrInvalidAmount = errors.New("money: invalid amount")

	// ErrAmountTooLarge is returned when an amount exceeds the configured ceiling
	ErrAmountTooLarge = errors.New("money: amount exceeds maximum")

	// ErrInvalidDecimalPlaces is returned for a decimal-place count outside the
	// supported range
	ErrInvalidDecimalPlaces = errors.New("money: unsupported decimal places")
)

// MaxMajorUnits is the default ceiling in major units at two decimal places.
// The ceiling scales with the decimal-place count so the minor-unit value sent
// to the terminal never exceeds the same integer magnitude.
const MaxMajorUnits = 999999.99

// multipliers maps a decimal-place count to its minor-unit multiplier.
// The terminal gateway supports currencies with 0 to 3 decimal places
// (JPY, GBP, BHD and the like).
var multipliers = [...]int64{1, 10, 100, 1000}

// Codec converts decimal monetary amounts to and from the gateway's integer
// minor-unit representation. The zero value uses the default ceiling.
type Codec struct {
	// MaxAmount is the ceiling in major units at two decimal places.
	// Zero means MaxMajorUnits.
	MaxAmount float64
}

// Multiplier returns the minor-unit multiplier for the given decimal-place
// count, or an error if the count is unsupported.
func Multiplier(decimalPlaces int) (int64, error) {
	if decimalPlaces < 0 || decimalPlaces >= len(multipliers) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDecimalPlaces, decimalPlaces)
	}
	return multipliers[decimalPlaces], nil
}

// ToMinorUnits converts a decimal amount to the gateway's integer minor-unit
// value, e.g. 10.50 GBP at 2 decimal places becomes 1050 pence. The amount
// must be positive and within the ceiling.
func (c Codec) ToMinorUnits(amount float64, decimalPlaces int) (int64, error) {
	mult, err := Multiplier(decimalPlaces)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	ceiling := c.ceiling(decimalPlaces)
	if amount > ceiling {
		return 0, fmt.Errorf("%w: %v > %v", ErrAmountTooLarge, amount, ceiling)
	}

	// Single multiply-and-round; all further arithmetic stays integer so the
	// round trip through ToDisplay is exact for every supported currency.
	return int64(math.Round(amount * float64(mult))), nil
}

// ToDisplay converts an integer minor-unit value back to a decimal amount.
// It is the inverse of ToMinorUnits and is used for audit logging only, never
// for gateway calls.
func (c Codec) ToDisplay(minorUnits int64, decimalPlaces int) (float64, error) {
	mult, err := Multiplier(decimalPlaces)
	if err != nil {
		return 0, err
	}
	return float64(minorUnits) / float64(mult), nil
}

// ceiling returns the major-unit ceiling scaled to the decimal-place count.
// At 2 decimal places the default is 999999.99; at 0 it is 99999999 so the
// minor-unit integer keeps the same magnitude.
func (c Codec) ceiling(decimalPlaces int) float64 {
	maxAmount := c.MaxAmount
	if maxAmount <= 0 {
		maxAmount = MaxMajorUnits
	}

	// Rescale from the 2-decimal-place reference to the requested count.
	maxMinor := math.Round(maxAmount * float64(multipliers[2]))
	return maxMinor / float64(multipliers[decimalPlaces])
}

// IsInvalidAmount checks if the given error indicates a rejected amount,
// either invalid or above the ceiling.
func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrAmountTooLarge)
}
