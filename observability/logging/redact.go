package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that never carry secrets. Everything else passed to MaskField is hidden.
var publicKeys = map[string]struct{}{
	"address":    {},
	"client":     {},
	"freelancer": {},
	"dealid":     {},
	"txhash":     {},
	"network":    {},
	"env":        {},
}

func isPublicKey(key string) bool {
	_, ok := publicKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is redacted unless key names a
// public field. Empty values are kept so operators can tell "unset" apart.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPublicKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN keeps the scheme of a database DSN and hides the rest.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if scheme, _, ok := strings.Cut(trimmed, "://"); ok {
		return scheme + "://" + RedactedValue
	}
	return RedactedValue
}
