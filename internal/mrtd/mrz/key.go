package mrz

import "mrtdreader/internal/mrtd/models"

var checkWeights = [3]int{7, 3, 1}

// CheckDigit computes the ICAO 9303 check digit of field.
func CheckDigit(field string) byte {
	sum := 0
	for i := 0; i < len(field); i++ {
		sum += charValue(field[i]) * checkWeights[i%3]
	}
	return byte('0' + sum%10)
}

func charValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	default:
		return 0
	}
}

// KeyInfo builds the MRZ information that seeds BAC and PACE keys: the padded
// document number, date of birth and date of expiry, each followed by its
// check digit.
func KeyInfo(k models.KeySpec) string {
	fields := []string{k.PaddedDocumentNumber(), k.BirthDateMRZ(), k.ExpiryDateMRZ()}
	out := make([]byte, 0, 24)
	for _, f := range fields {
		out = append(out, f...)
		out = append(out, CheckDigit(f))
	}
	return string(out)
}
