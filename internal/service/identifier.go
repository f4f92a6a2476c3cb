package service

import (
	"strings"

	"github.com/tallypay/authcore/internal/util"
)

const (
	identifierLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	identifierDigits  = "0123456789"
)

// GenerateCompanyIdentifier builds "CC-SSNAANN": the country code, then two
// seed letters taken from shortName (random when it has too few letters),
// then a digit, two letters and two digits. Uniqueness is the caller's job.
func GenerateCompanyIdentifier(countryCode, shortName string) (string, error) {
	seed := seedLetters(shortName)
	if len(seed) < 2 {
		fill, err := util.RandomString(identifierLetters, 2-len(seed))
		if err != nil {
			return "", err
		}
		seed += fill
	}

	var sb strings.Builder
	sb.Grow(10)
	sb.WriteString(strings.ToUpper(countryCode))
	sb.WriteByte('-')
	sb.WriteString(seed)

	for _, alphabet := range []string{identifierDigits, identifierLetters, identifierLetters, identifierDigits, identifierDigits} {
		c, err := util.RandomString(alphabet, 1)
		if err != nil {
			return "", err
		}
		sb.WriteString(c)
	}
	return sb.String(), nil
}

func seedLetters(shortName string) string {
	var out []byte
	for _, r := range strings.ToUpper(shortName) {
		if r >= 'A' && r <= 'Z' {
			out = append(out, byte(r))
			if len(out) == 2 {
				break
			}
		}
	}
	return string(out)
}
