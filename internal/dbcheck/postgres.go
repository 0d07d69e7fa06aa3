package dbcheck

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cmstate/cmstate/internal/config"
)

// PostgresConnString builds the pool connection string for a metastore
// check. A check uses a single connection.
func PostgresConnString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer",
		cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password,
	)
}

func checkPostgres(ctx context.Context, cfg config.DatabaseConfig) (string, error) {
	poolCfg, err := pgxpool.ParseConfig(PostgresConnString(cfg))
	if err != nil {
		return "", fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return "", fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return "", fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("querying version: %w", err)
	}
	return version, nil
}
