package database

import (
	"os"

	"oauth-server/config"

	"github.com/jmoiron/sqlx"
	"github.com/umakantv/go-utils/db"
	"github.com/umakantv/go-utils/db/migrations"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

func InitializeDatabase(cfg *config.Config) *sqlx.DB {
	dbConn := db.GetDBConnection(db.DatabaseConfig{
		DRIVER: "sqlite3",
		DB:     cfg.DatabasePath,
	})

	err := migrations.Migrate(dbConn, cfg.MigrationsDir)
	if err != nil {
		logger.Error("Error while running migration", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Database initialized successfully")
	return dbConn
}
