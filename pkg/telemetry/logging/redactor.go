package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Replacement written in place of secrets.
const redacted = "***"

// secretKeys are attribute keys whose values are never logged.
var secretKeys = map[string]bool{
	"password":       true,
	"redis_password": true,
	"authorization":  true,
}

// dsnCredentials matches the password part of "user:password@" in URL and
// MySQL style connection strings.
var dsnCredentials = regexp.MustCompile(`([^:/@\s]+):([^:/@\s]+)@`)

// RedactDSN masks the password in a database connection string.
//
//	postgres://quota:s3cret@db:5432/quota -> postgres://quota:***@db:5432/quota
//	quota:s3cret@tcp(db:3306)/quota       -> quota:***@tcp(db:3306)/quota
func RedactDSN(dsn string) string {
	return dsnCredentials.ReplaceAllString(dsn, "$1:"+redacted+"@")
}

// redactAttr is the handler's ReplaceAttr hook.
func redactAttr(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, redacted)
	case key == "dsn" && a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, RedactDSN(a.Value.String()))
	}
	return a
}
