package util

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	uuidRegex        = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	countryCodeRegex = regexp.MustCompile(`^[A-Z]{2}$`)
	e164Regex        = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	usernameRegex    = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,50}$`)
	numericCodeRegex = regexp.MustCompile(`^\d{6}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

func IsValidCountryCode(s string) bool {
	return countryCodeRegex.MatchString(s)
}

func IsValidE164(s string) bool {
	return e164Regex.MatchString(s)
}

func IsValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}

func IsValidNumericCode(s string) bool {
	return numericCodeRegex.MatchString(s)
}

func IsValidEmail(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at:], ".")
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LengthBetween counts runes, not bytes.
func LengthBetween(s string, min, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= min && n <= max
}

// PasswordProblems lists the strength rules the password fails. Empty means acceptable.
func PasswordProblems(password string) []string {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	var problems []string
	if utf8.RuneCountInString(password) < 8 {
		problems = append(problems, "at least 8 characters")
	}
	if !upper {
		problems = append(problems, "an uppercase letter")
	}
	if !lower {
		problems = append(problems, "a lowercase letter")
	}
	if !digit {
		problems = append(problems, "a digit")
	}
	if !special {
		problems = append(problems, "a special character")
	}
	return problems
}
