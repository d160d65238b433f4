package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secret material in log output.
const RedactedValue = "[REDACTED]"

// Keys MaskField never hides. Everything else passed through MaskField is
// masked unless empty.
var plainKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"lease":     {},
	"label":     {},
	"height":    {},
	"route":     {},
}

// Keys Setup masks on every record, whatever the caller passed.
var secretKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"hmac_secret":   {},
	"password":      {},
	"api_key":       {},
	"passphrase":    {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether MaskField leaves values under key readable.
func IsAllowlisted(key string) bool {
	_, ok := plainKeys[normalizeKey(key)]
	return ok
}

// IsSecret reports whether key always carries secret material. Keys ending
// in _secret or _token count as well.
func IsSecret(key string) bool {
	k := normalizeKey(key)
	if _, ok := secretKeys[k]; ok {
		return true
	}
	return strings.HasSuffix(k, "_secret") || strings.HasSuffix(k, "_token")
}

func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is hidden unless key is
// allowlisted. Blank values stay as they are.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskDSN hides the credentials of a database DSN while keeping its target.
// URL-style DSNs keep scheme and host; key/value DSNs drop password pairs.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		if creds, host, ok := strings.Cut(rest, "@"); ok {
			user, _, _ := strings.Cut(creds, ":")
			return scheme + "://" + user + ":" + RedactedValue + "@" + host
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && normalizeKey(k) == "password" {
			fields[i] = k + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

func redactSecrets(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && IsSecret(attr.Key) {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return attr
}
