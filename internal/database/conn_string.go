package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/jarvis-app/realtime/internal/config"
)

// ApplicationName identifies journal connections in pg_stat_activity.
const ApplicationName = "jarvisd"

// BuildConnString builds a PostgreSQL connection URL from config.
// User and password are escaped by url.URL.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
