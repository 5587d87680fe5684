package db

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sirupsen/logrus"

	"calentian-mail-pipeline/internal/config"
	"calentian-mail-pipeline/internal/models"
)

// Init connects to MySQL, sizes the pool from cfg and migrates the
// message table. Directory tables are owned by the CRM schema.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), &gorm.Config{Logger: newLogger(cfg)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	configurePool(sqlDB, cfg)

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"host":           cfg.Host,
		"dbname":         cfg.DBName,
		"max_open_conns": cfg.MaxOpenConns,
	}).Info("Database initialized")
	return db, nil
}

// newLogger routes gorm's warnings and slow queries through logrus
func newLogger(cfg config.DatabaseConfig) logger.Interface {
	return logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// configurePool applies pool limits; zero values keep database/sql defaults
func configurePool(sqlDB *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// Ping checks that the database answers
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.InboundMessage{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	logrus.Debug("Database migrations completed")
	return nil
}
