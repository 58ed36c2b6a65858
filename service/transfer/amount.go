package transfer

import (
	"fmt"
	"strings"
)

// USDCDecimals is the decimal precision of the app's stable asset.
// Amounts are carried as int64 base units at this precision (1 USDC =
// 1_000_000 base units) once they pass through ParseAmount.
const USDCDecimals = 6

// ParseAmount parses a user-entered amount string into base units at the
// given decimal precision. Both "," and "." are accepted as the decimal
// separator so that locale-formatted input ("12,50") parses the same as
// "12.50". Inputs with more than one separator, non-numeric characters, or
// a non-positive value are rejected. Fractional digits beyond the asset
// precision are rounded half-up.
func ParseAmount(input string, decimals int) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	// Normalize the locale decimal separator. More than one separator of
	// any kind ("12,5,0", "1.2.3", "1,2.3") is ambiguous and rejected.
	normalized := strings.ReplaceAll(s, ",", ".")
	if strings.Count(normalized, ".") > 1 {
		return 0, fmt.Errorf("amount %q has multiple decimal separators", input)
	}

	intPart := normalized
	fracPart := ""
	if i := strings.IndexByte(normalized, '.'); i >= 0 {
		intPart, fracPart = normalized[:i], normalized[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("amount %q is not a number", input)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return 0, fmt.Errorf("amount %q is not a number", input)
	}

	scale := pow10(decimals)

	var units int64
	for _, r := range intPart {
		d := int64(r - '0')
		if units > (1<<62)/10 {
			return 0, fmt.Errorf("amount %q is too large", input)
		}
		units = units*10 + d
	}
	if units > (1<<62)/scale {
		return 0, fmt.Errorf("amount %q is too large", input)
	}
	units *= scale

	// Fractional digits up to the asset precision contribute directly;
	// the first digit past it decides the half-up rounding.
	var frac int64
	for i, r := range fracPart {
		d := int64(r - '0')
		if i < decimals {
			frac = frac*10 + d
			continue
		}
		if i == decimals && d >= 5 {
			frac++
		}
		break
	}
	for i := len(fracPart); i < decimals; i++ {
		frac *= 10
	}

	units += frac
	if units <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %q", input)
	}
	return units, nil
}

// FormatAmount renders base units back into a canonical decimal string with
// a "." separator, e.g. 12500000 -> "12.500000" at 6 decimals. Formatting
// then reparsing yields the same base units.
func FormatAmount(units int64, decimals int) string {
	scale := pow10(decimals)
	whole := units / scale
	frac := units % scale
	if decimals == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return fmt.Sprintf("%d.%0*d", whole, decimals, frac)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
