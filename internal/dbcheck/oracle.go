package dbcheck

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/sijms/go-ora/v2"

	"github.com/cmstate/cmstate/internal/config"
)

// OracleConnString builds the go-ora connection string (pure Go, no
// Instant Client).
func OracleConnString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("oracle://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

func checkOracle(ctx context.Context, cfg config.DatabaseConfig) (string, error) {
	db, err := sql.Open("oracle", OracleConnString(cfg))
	if err != nil {
		return "", fmt.Errorf("opening Oracle connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("pinging Oracle: %w", err)
	}

	var banner string
	if err := db.QueryRowContext(ctx, "SELECT banner FROM v$version WHERE ROWNUM = 1").Scan(&banner); err != nil {
		return "", fmt.Errorf("querying version: %w", err)
	}
	return banner, nil
}
