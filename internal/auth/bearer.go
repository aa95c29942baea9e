package auth

import "strings"

// ParseBearer extracts the token from an Authorization header value. The
// value must be exactly two whitespace-separated fields with a
// case-insensitive "Bearer" scheme.
func ParseBearer(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrBadAuthHeader
	}
	return parts[1], nil
}
