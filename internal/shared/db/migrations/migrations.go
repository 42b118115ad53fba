package migrations

import (
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/subastas/bidengine/internal/shared/config"
	"github.com/subastas/bidengine/internal/shared/db"
	"github.com/subastas/bidengine/internal/shared/logger"
)

var log = logger.GetLogger()

func RunMigrations(cfg *config.Config) error {
	dbURL := db.BuildPostgresDSN(cfg)
	log.Info("RunMigrations", zap.String("database", cfg.DBName))
	m, err := migrate.New(
		"file://internal/shared/db/migrations/sql",
		dbURL,
	)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
