package postgres

import "testing"

func TestParseDSN_ValidMinimal(t *testing.T) {
	t.Parallel()

	cfg, err := parseDSN("host=localhost user=app dbname=appdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "localhost" || cfg.User != "app" || cfg.DBName != "appdb" {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParseDSN_AllKeys(t *testing.T) {
	t.Parallel()

	dsn := "host=db.internal user=app dbname=appdb password=secret port=5433 sslmode=require connect_timeout=10 persistent=true"
	cfg, err := parseDSN(dsn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Password != "secret" {
		t.Fatalf("got password %q", cfg.Password)
	}
	if cfg.Port != 5433 {
		t.Fatalf("got port %d", cfg.Port)
	}
	if cfg.SSLMode != "require" {
		t.Fatalf("got sslmode %q", cfg.SSLMode)
	}
	if !cfg.Persistent {
		t.Fatalf("expected persistent=true")
	}
}

func TestParseDSN_UnknownKeyRejected(t *testing.T) {
	t.Parallel()

	_, err := parseDSN("host=localhost user=app dbname=appdb foo=bar")
	if !IsCode(err, CodeConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestParseDSN_MissingRequiredKeyRejected(t *testing.T) {
	t.Parallel()

	cases := []string{
		"user=app dbname=appdb",
		"host=localhost dbname=appdb",
		"host=localhost user=app",
	}
	for _, dsn := range cases {
		dsn := dsn
		t.Run(dsn, func(t *testing.T) {
			t.Parallel()
			_, err := parseDSN(dsn)
			if !IsCode(err, CodeConfigurationError) {
				t.Fatalf("expected ConfigurationError for %q, got %v", dsn, err)
			}
		})
	}
}

func TestParseDSN_InvalidSSLModeRejected(t *testing.T) {
	t.Parallel()

	_, err := parseDSN("host=localhost user=app dbname=appdb sslmode=bogus")
	if !IsCode(err, CodeConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestParseDSN_NonPositivePortRejected(t *testing.T) {
	t.Parallel()

	for _, port := range []string{"0", "-1", "notanumber"} {
		_, err := parseDSN("host=localhost user=app dbname=appdb port=" + port)
		if !IsCode(err, CodeConfigurationError) {
			t.Fatalf("expected ConfigurationError for port=%s, got %v", port, err)
		}
	}
}

func TestParseDSN_MalformedTokenRejected(t *testing.T) {
	t.Parallel()

	_, err := parseDSN("host=localhost user dbname=appdb")
	if !IsCode(err, CodeConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
