package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskEmail keeps the first character and the domain so log lines stay
// correlatable without exposing the full address.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return RedactedValue
	}
	return email[:1] + "***" + email[at:]
}

// EmailAttr returns a slog.Attr carrying the masked address.
func EmailAttr(key, email string) slog.Attr {
	return slog.String(key, MaskEmail(email))
}
