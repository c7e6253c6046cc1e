package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector returns the gorm dialector for the configured database type.
func (c DatabaseConfig) Dialector() (gorm.Dialector, error) {
	switch c.Type {
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			c.User, c.Password, c.Host, c.Port, c.Name)
		return mysql.Open(dsn), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Path), os.ModePerm); err != nil {
			return nil, err
		}
		return sqlite.Open(c.Path + "?_busy_timeout=0&_foreign_keys=on"), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

// OpenDB opens a gorm connection for the database configuration.
func OpenDB(c DatabaseConfig) (*gorm.DB, error) {
	dialector, err := c.Dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)

	return db, nil
}

// GetDb opens the configured database and exits on failure.
func GetDb(cfg *Config) *gorm.DB {
	db, err := OpenDB(cfg.Database)
	if err != nil {
		logrus.Fatalf("error connecting to %s database: %v", cfg.Database.Type, err)
	}

	return db
}
