// Package store is the persistence layer over the system-of-record database.
// Every store wraps the shared gorm handle; secret-bearing columns are
// encrypted with the secret codec before they reach the driver.
package store

import (
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/credops/credops/internal/model"
)

// Config holds database connection configuration.
type Config struct {
	// DSN is the postgres connection string (defaults to DATABASE_URL).
	DSN string
	// Debug enables SQL statement logging.
	Debug bool
}

// Connect establishes the database connection.
func Connect(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required (set database.dsn or DATABASE_URL)")
	}

	logMode := logger.Silent
	if cfg.Debug {
		logMode = logger.Info
	}

	db, err := gorm.Open(
		postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true, // disables implicit prepared statement usage
		}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logMode),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the schema for all persisted entities.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.AccountTemplate{},
		&model.GatheredAccount{},
		&model.AccountRisk{},
		&model.ChangeSecretRecord{},
		&model.PushSecretRecord{},
		&model.AutomationExecution{},
	)
}
