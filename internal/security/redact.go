// Package security masks credentials before they reach logs, terminals or
// notification channels.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns match a secret inside free text. The secret is the
// last capture group.
var sensitivePatterns = []*regexp.Regexp{
	// key=value and key: value pairs, as in libpq DSNs and config dumps
	regexp.MustCompile(`(?i)\b(password|passwd|api[_-]?key|secret|token|bot_token)(\s*[=:]\s*["']?)([^\s"'&]+)`),
	// Telegram bot tokens inside API URLs
	regexp.MustCompile(`(/bot)(\d+:[A-Za-z0-9_-]+)`),
	// OpenAI and OpenRouter keys
	regexp.MustCompile(`()\b(sk-[A-Za-z0-9_-]{16,})`),
	// URL userinfo
	regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)@`),
}

// MaskCredential keeps at most the first and last four characters.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every credential found in s.
func Redact(s string) string {
	for i, pattern := range sensitivePatterns {
		userinfo := i == len(sensitivePatterns)-1
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			groups := pattern.FindStringSubmatch(match)
			secret := groups[len(groups)-1]
			prefix := strings.Join(groups[1:len(groups)-1], "")
			if userinfo {
				return prefix + "****@"
			}
			return prefix + MaskCredential(secret)
		})
	}
	return s
}

// ContainsSensitiveData reports whether s holds anything Redact would mask.
func ContainsSensitiveData(s string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactDSN masks the password of a database connection string, in URL or
// key=value form.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
	}
	return Redact(dsn)
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with a masked message. errors.Is and errors.As
// still see the original chain.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !ContainsSensitiveData(msg) {
		return err
	}
	return &redactedError{msg: Redact(msg), err: err}
}
