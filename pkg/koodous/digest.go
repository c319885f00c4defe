// ABOUTME: SHA-256 sample identifier parsing and validation
// ABOUTME: Normalizes digests to lowercase and rejects malformed input

package koodous

import (
	"fmt"
	"strings"
)

// SHA256Length is the length of a hex-encoded SHA-256 digest.
const SHA256Length = 64

// ParseSHA256 trims and lowercases s and checks that it is a SHA-256 digest.
func ParseSHA256(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDigest)
	}
	if len(s) != SHA256Length {
		return "", fmt.Errorf("%w: length %d, must be %d", ErrInvalidDigest, len(s), SHA256Length)
	}
	for _, c := range s {
		if !isHexChar(c) {
			return "", fmt.Errorf("%w: invalid hex character %q", ErrInvalidDigest, c)
		}
	}

	return s, nil
}

// IsSHA256 reports whether s parses as a SHA-256 digest.
func IsSHA256(s string) bool {
	_, err := ParseSHA256(s)
	return err == nil
}

// isHexChar reports whether c is a lowercase hexadecimal character.
func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
