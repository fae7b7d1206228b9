package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/goldstream/internal/config"
)

const (
	defaultPort    = 5432
	defaultSSLMode = "prefer"
	appName        = "goldstream"
)

// BuildConnString returns the PostgreSQL URL for cfg. A configured URL is
// returned unchanged; otherwise one is assembled from the discrete fields
// with the user and password escaped.
func BuildConnString(cfg config.DBConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}, "application_name": {appName}}.Encode(),
	}
	return u.String()
}
