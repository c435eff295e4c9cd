package config

import (
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const redacted = "***"

// RedactURL masks the password in a connection string before it is logged.
// It understands URLs (postgres://, redis://) and MySQL DSNs; anything else,
// or a string without a password, is returned unchanged.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}

	if strings.Contains(raw, "://") {
		return redactURL(raw)
	}

	cfg, err := mysql.ParseDSN(raw)
	if err != nil || cfg.Passwd == "" {
		return raw
	}

	cfg.Passwd = redacted

	return cfg.FormatDSN()
}

// redactURL edits the raw string rather than re-encoding the parsed URL so
// the rest of the string keeps its original form.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, ok := u.User.Password(); !ok {
		return raw
	}

	start := strings.Index(raw, "://") + len("://")

	at := strings.Index(raw[start:], "@")
	if at < 0 {
		return raw
	}

	userinfo := raw[start : start+at]

	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return raw
	}

	return raw[:start] + userinfo[:colon+1] + redacted + raw[start+at:]
}
