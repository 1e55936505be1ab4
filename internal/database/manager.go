package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"phototree/internal/config"
)

// DatabaseManager manages database connections
type DatabaseManager struct {
	config *config.DatabaseConfig
	gormDB *gorm.DB
	sqlDB  *sql.DB
	logger *zerolog.Logger
}

// BuildDSN creates a PostgreSQL DSN from configuration
func BuildDSN(config *config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
}

// GORMConfig is shared by every connection the manager opens
var GORMConfig = &gorm.Config{
	Logger:      logger.Default.LogMode(logger.Silent),
	PrepareStmt: true,
}

// Dialector returns the gorm dialector for the configured driver
func Dialector(config *config.DatabaseConfig) (gorm.Dialector, error) {
	switch config.Driver {
	case "postgres":
		return postgres.Open(BuildDSN(config)), nil
	case "sqlite", "":
		// foreign keys on, and wait instead of failing while another statement holds the lock
		return sqlite.Open(config.Path + "?_foreign_keys=on&_busy_timeout=5000"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(config *config.DatabaseConfig, logger *zerolog.Logger) (*DatabaseManager, error) {
	dialector, err := Dialector(config)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, GORMConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if config.Driver == "sqlite" {
		// sqlite allows a single writer; serialize through one connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := runHealthCheck(db); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	if logger != nil {
		logger.Info().Str("driver", config.Driver).Msg("Database connection established")
	}

	return &DatabaseManager{
		config: config,
		gormDB: db,
		sqlDB:  sqlDB,
		logger: logger,
	}, nil
}

// runHealthCheck performs a basic query to verify database connectivity
func runHealthCheck(db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error
}

// Ping verifies the connection is alive
func (d *DatabaseManager) Ping(ctx context.Context) error {
	if d == nil || d.sqlDB == nil {
		return fmt.Errorf("database not initialized")
	}
	return d.sqlDB.PingContext(ctx)
}

// GetGormDB returns the GORM database instance
func (d *DatabaseManager) GetGormDB() *gorm.DB {
	return d.gormDB
}

// GetSQLDB returns the underlying SQL database instance
func (d *DatabaseManager) GetSQLDB() *sql.DB {
	return d.sqlDB
}

// Close closes the database connection
func (d *DatabaseManager) Close() error {
	return d.sqlDB.Close()
}

// NewDatabaseManagerFromExisting creates a DatabaseManager from existing GORM and SQL instances
func NewDatabaseManagerFromExisting(gormDB *gorm.DB, sqlDB *sql.DB) *DatabaseManager {
	return &DatabaseManager{
		gormDB: gormDB,
		sqlDB:  sqlDB,
	}
}
