// Package redact strips sensitive material from strings before they are
// logged: service keys, bearer tokens, connection strings, and task
// payload fragments that may carry tenant data.
package redact

import "regexp"

// Redaction placeholders.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
	PayloadPlaceholder    = "[REDACTED_PAYLOAD]"
)

var (
	// Connection strings with inline credentials.
	connStringRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|mysql)://[^@\s]+@`)

	// Secrets passed as key=value or key: value pairs.
	secretPairRegex = regexp.MustCompile(`(?i)(password|passwd|secret|service[_-]?key|api[_-]?key|token)(['"\s:=]+)[^'"&\s]{4,}`)

	// Three-part base64url JWTs.
	jwtRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	// Inline JSON objects, the usual shape of a task payload leaking into
	// an error string.
	jsonObjectRegex = regexp.MustCompile(`\{[^{}]*:[^{}]*\}`)
)

// String returns s with sensitive fragments replaced by placeholders.
func String(s string) string {
	s = connStringRegex.ReplaceAllString(s, CredentialPlaceholder+"@")
	s = jwtRegex.ReplaceAllString(s, TokenPlaceholder)
	s = secretPairRegex.ReplaceAllString(s, "$1$2"+CredentialPlaceholder)
	s = jsonObjectRegex.ReplaceAllString(s, PayloadPlaceholder)
	return s
}

// Error redacts an error's message. Nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
