package clients

import (
	"errors"
	"strings"
)

// ErrInvalidTaxID indicates a malformed RUT or a wrong check digit.
var ErrInvalidTaxID = errors.New("invalid tax id")

// NormalizeTaxID validates a Chilean RUT ("12.345.678-5", "123456785") and
// returns it as "12345678-5" with an upper-case check digit.
func NormalizeTaxID(raw string) (string, error) {
	cleaned := strings.ToUpper(strings.NewReplacer(".", "", "-", "", " ", "").Replace(raw))
	if len(cleaned) < 2 || len(cleaned) > 9 {
		return "", ErrInvalidTaxID
	}
	body, dv := cleaned[:len(cleaned)-1], cleaned[len(cleaned)-1]
	for _, r := range body {
		if r < '0' || r > '9' {
			return "", ErrInvalidTaxID
		}
	}
	if checkDigit(body) != dv {
		return "", ErrInvalidTaxID
	}
	return strings.TrimLeft(body, "0") + "-" + string(dv), nil
}

func checkDigit(body string) byte {
	sum, factor := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch rest := 11 - sum%11; rest {
	case 11:
		return '0'
	case 10:
		return 'K'
	default:
		return byte('0' + rest)
	}
}
