package utils

import (
	"regexp"
	"strings"
)

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace       = regexp.MustCompile(`\s+`)
	nonDigits        = regexp.MustCompile(`\D`)
)

// NormalizeName trims and collapses whitespace in a display name
func NormalizeName(name string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(name), " ")
}

// NormalizeCurrency upper-cases a currency code, falling back to the default
func NormalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

// DigitsOnly strips everything but digits
func DigitsOnly(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// CleanFileName removes invalid characters from filename
func CleanFileName(filename string) string {
	cleaned := invalidFileChars.ReplaceAllString(filename, "_")
	cleaned = strings.TrimSpace(cleaned)
	return whitespace.ReplaceAllString(cleaned, "_")
}
