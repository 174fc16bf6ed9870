package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/storage/postgres"
	"github.com/sirupsen/logrus"
)

type DBOptions struct {
	DSN      string
	MaxConns int
	PingTO   time.Duration
	Migrate  bool
	Log      logrus.FieldLogger
}

// OpenDB connects to Postgres and, when asked, applies pending migrations.
func OpenDB(ctx context.Context, opt DBOptions) (*sql.DB, error) {
	if opt.DSN == "" {
		return nil, fmt.Errorf("DB_DSN is not set")
	}

	db, err := postgres.Open(ctx, opt.DSN, postgres.Options{MaxConns: opt.MaxConns, PingTO: opt.PingTO})
	if err != nil {
		return nil, err
	}

	if opt.Migrate {
		if err := postgres.Migrate(db, opt.Log); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}
