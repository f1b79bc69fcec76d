package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sslModes is the closed set of accepted sslmode values.
var sslModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// dsnKeys is the closed set of recognized connection string keys.
var dsnKeys = map[string]bool{
	"host":             true,
	"user":             true,
	"dbname":           true,
	"password":         true,
	"port":             true,
	"sslmode":          true,
	"connect_timeout":  true,
	"persistent":       true,
}

// connConfig is the parsed, validated form of a connection string.
type connConfig struct {
	Host           string
	User           string
	DBName         string
	Password       string
	Port           int
	SSLMode        string
	ConnectTimeout time.Duration
	Persistent     bool
}

// parseDSN parses a space-delimited set of key=value tokens into a
// connConfig, rejecting unknown keys and invalid values with a
// ConfigurationError.
func parseDSN(dsn string) (*connConfig, error) {
	tokens := strings.Fields(dsn)
	if len(tokens) == 0 {
		return nil, New(CodeConfigurationError, "connection string is empty")
	}

	seen := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, Newf(CodeConfigurationError, "malformed token %q: expected key=value", tok)
		}
		if !dsnKeys[key] {
			return nil, Newf(CodeConfigurationError, "unknown connection string key %q", key)
		}
		seen[key] = value
	}

	cfg := &connConfig{SSLMode: ""}

	host, ok := seen["host"]
	if !ok || host == "" {
		return nil, New(CodeConfigurationError, "host is required")
	}
	cfg.Host = host

	user, ok := seen["user"]
	if !ok || user == "" {
		return nil, New(CodeConfigurationError, "user is required")
	}
	cfg.User = user

	dbname, ok := seen["dbname"]
	if !ok || dbname == "" {
		return nil, New(CodeConfigurationError, "dbname is required")
	}
	cfg.DBName = dbname

	cfg.Password = seen["password"]

	if portStr, ok := seen["port"]; ok && portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return nil, Newf(CodeConfigurationError, "port must be a positive integer, got %q", portStr)
		}
		cfg.Port = port
	}

	if mode, ok := seen["sslmode"]; ok && mode != "" {
		if !sslModes[mode] {
			return nil, Newf(CodeConfigurationError, "invalid sslmode %q", mode)
		}
		cfg.SSLMode = mode
	}

	if timeoutStr, ok := seen["connect_timeout"]; ok && timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return nil, Newf(CodeConfigurationError, "connect_timeout must be a positive integer, got %q", timeoutStr)
		}
		cfg.ConnectTimeout = time.Duration(seconds) * time.Second
	}

	if persistStr, ok := seen["persistent"]; ok && persistStr != "" {
		b, err := strconv.ParseBool(persistStr)
		if err != nil {
			return nil, Newf(CodeConfigurationError, "persistent must be a boolean, got %q", persistStr)
		}
		cfg.Persistent = b
	}

	return cfg, nil
}

// wireString reassembles a connConfig into a libpq-style connection string
// suitable for pgconn.Connect.
func (c *connConfig) wireString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s user=%s dbname=%s", c.Host, c.User, c.DBName)
	if c.Password != "" {
		fmt.Fprintf(&b, " password=%s", c.Password)
	}
	if c.Port != 0 {
		fmt.Fprintf(&b, " port=%d", c.Port)
	}
	if c.SSLMode != "" {
		fmt.Fprintf(&b, " sslmode=%s", c.SSLMode)
	} else {
		b.WriteString(" sslmode=prefer")
	}
	return b.String()
}
