// Package redact removes credentials and personal data from strings before
// they reach logs or HTTP responses. Digest errors routinely carry contact
// addresses, SMTP replies, connection strings and API keys, none of which
// may leave the process verbatim.
package redact

import (
	"regexp"
	"strings"
)

// Placeholders substituted for redacted fragments.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
	JWTPlaceholder        = "[REDACTED_JWT]"
	EmailPlaceholder      = "[REDACTED_EMAIL]"
	PathPlaceholder       = "[REDACTED_PATH]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; earlier rules consume text later rules would
// otherwise partially match.
var rules = []rule{
	// userinfo in URLs: postgres://user:pw@host, smtp://user:pw@host
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/@\s]+@`), "${1}" + CredentialPlaceholder + "@"},
	// key=value DSN passwords as accepted by pgx
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*)('[^']*'|"[^"]*"|[^\s&]+)`), "${1}${2}" + CredentialPlaceholder},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), JWTPlaceholder},
	// Google API keys (Gemini)
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), KeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]{8,}`), "${1} " + TokenPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|key)(["'\s]*[=:]\s*["']?)[A-Za-z0-9._~+/-]{8,}`), "${1}${2}" + KeyPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), EmailPlaceholder},
	{regexp.MustCompile(`(/[\w.-]+){3,}`), PathPlaceholder},
}

// String redacts sensitive fragments from s.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Email masks a contact address for logging, keeping the first character
// of the local part and the domain: "ada@example.org" becomes
// "a***@example.org". Strings that are not addresses are fully masked.
func Email(addr string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(addr), "@")
	if !ok || local == "" || domain == "" {
		return EmailPlaceholder
	}
	return local[:1] + "***@" + domain
}
