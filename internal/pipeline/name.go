package pipeline

import (
	"fmt"
	"strings"
)

// SanitizeName normalizes a requested deployment name to lowercase
// [a-z0-9_.-], collapsing runs of other characters into single dashes and
// trimming leading/trailing dashes.
func SanitizeName(name string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	lastDash := true
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	sanitized := strings.Trim(b.String(), "-")
	if sanitized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return sanitized, nil
}
