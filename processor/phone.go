package processor

import "strings"

// phoneVariants returns the forms under which a phone number may already
// be stored on the contact platform, canonical form first. Israeli mobile
// numbers are commonly captured with the trunk zero kept after the country
// code (9720535...), so both forms are tried.
func phoneVariants(raw string) []string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(digits, "9720"):
		return []string{"972" + digits[4:], digits}
	case strings.HasPrefix(digits, "972"):
		return []string{digits, "9720" + digits[3:]}
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return []string{"972" + digits[1:], "9720" + digits[1:]}
	}
	return []string{digits}
}
