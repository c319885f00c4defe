// ABOUTME: Sensitive data redaction for secure logging
// ABOUTME: Masks API tokens, signed URL signatures and other secrets in logs

package observability

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// RedactionPlaceholder is the replacement text for redacted values.
const RedactionPlaceholder = "[REDACTED]"

// sensitivePatterns pair a secret-bearing pattern with its replacement.
// Values stop at whitespace or & so query strings keep their shape.
var sensitivePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(token|auth_token|access_token)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(x-amz-signature|x-goog-signature|signature|sig)=[^\s&]+`), "${1}=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)\b(Token|Bearer)\s+[^\s]+`), "${1} " + RedactionPlaceholder},
}

// sensitiveKeyPatterns match map and attribute keys by substring.
var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"api_key",
	"api-key",
	"apikey",
	"authorization",
	"credential",
	"signature",
	"private_key",
}

// sensitiveQueryKeys match signed URL parameters exactly.
var sensitiveQueryKeys = map[string]struct{}{
	"sig":                  {},
	"googleaccessid":       {},
	"x-amz-security-token": {},
}

// RedactSensitive replaces secrets embedded in free text with [REDACTED].
func RedactSensitive(value string) string {
	for _, p := range sensitivePatterns {
		value = p.re.ReplaceAllString(value, p.repl)
	}
	return value
}

// RedactURL masks credentials in a URL: user info and the values of
// sensitive query parameters. Signed upload and download URLs stay
// recognizable without leaking their signatures.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactSensitive(raw)
	}

	if u.User != nil {
		u.User = url.User(RedactionPlaceholder)
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if isSensitiveQueryKey(key) {
				q[key] = []string{RedactionPlaceholder}
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

func isSensitiveQueryKey(key string) bool {
	if _, ok := sensitiveQueryKeys[strings.ToLower(key)]; ok {
		return true
	}
	return IsSensitiveKey(key)
}

// IsSensitiveKey returns true if the key name suggests sensitive data.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lowerKey, pattern) {
			return true
		}
	}
	return false
}

// RedactAttr is a slog ReplaceAttr hook that masks attributes with
// sensitive keys and scrubs secrets out of string values.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactionPlaceholder)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); strings.ContainsAny(s, "= ") {
			return slog.String(a.Key, RedactSensitive(s))
		}
	}
	return a
}
