package dbcheck

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cmstate/cmstate/internal/config"
)

func TestCheckUnsupportedTypeIsSkipped(t *testing.T) {
	res := Check(context.Background(), config.DatabaseConfig{
		Type: "mysql",
		Host: "db1.example.com",
		Port: 3306,
		Name: "oozie",
	})
	if !res.Skipped {
		t.Error("Skipped = false, want true for mysql")
	}
	if res.OK {
		t.Error("OK = true for a skipped check")
	}
	if res.Target != "db1.example.com:3306/oozie" {
		t.Errorf("Target = %q", res.Target)
	}
	if !strings.Contains(res.Message, "mysql") {
		t.Errorf("Message = %q, want the type named", res.Message)
	}
}

func TestPostgresConnString(t *testing.T) {
	got := PostgresConnString(config.DatabaseConfig{
		Type: "postgresql", Host: "db1", Port: 5432, Name: "oozie", User: "oozie", Password: "pw",
	})
	want := "host=db1 port=5432 dbname=oozie user=oozie password=pw sslmode=prefer"
	if got != want {
		t.Errorf("PostgresConnString = %q, want %q", got, want)
	}
}

func TestOracleConnString(t *testing.T) {
	got := OracleConnString(config.DatabaseConfig{
		Type: "oracle", Host: "db1", Port: 1521, Name: "XE", User: "oozie", Password: "pw",
	})
	want := "oracle://oozie:pw@db1:1521/XE"
	if got != want {
		t.Errorf("OracleConnString = %q, want %q", got, want)
	}
}

// TestCheckLivePostgres runs only against a real database. Set
// CMSTATE_TEST_PG_HOST (plus _PORT, _DATABASE, _USER, _PASSWORD) to
// enable it.
func TestCheckLivePostgres(t *testing.T) {
	host := os.Getenv("CMSTATE_TEST_PG_HOST")
	if host == "" {
		t.Skip("skipping: CMSTATE_TEST_PG_HOST not set")
	}
	cfg := config.DatabaseConfig{
		Type:     "postgresql",
		Host:     host,
		Port:     5432,
		Name:     envOr("CMSTATE_TEST_PG_DATABASE", "postgres"),
		User:     envOr("CMSTATE_TEST_PG_USER", "postgres"),
		Password: envOr("CMSTATE_TEST_PG_PASSWORD", "postgres"),
	}
	res := Check(context.Background(), cfg)
	if !res.OK {
		t.Fatalf("Check = %+v", res)
	}
	if !strings.Contains(res.Message, "PostgreSQL") {
		t.Errorf("Message = %q, want server version", res.Message)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
