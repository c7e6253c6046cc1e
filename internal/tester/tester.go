package tester

import (
	"os"
	"path/filepath"

	"github.com/emrgen/catalog/internal/model"
	"github.com/emrgen/catalog/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db      *gorm.DB
	testDir string
)

// Setup opens a fresh sqlite database for the test binary and migrates it.
// A single connection is used so transactions never see SQLITE_BUSY.
func Setup() {
	RemoveDBFile()

	_ = os.Setenv("ENVIRONMENT", "test")
	logrus.SetLevel(logrus.WarnLevel)

	dir, err := os.MkdirTemp("", "catalog-test-")
	if err != nil {
		panic(err)
	}
	testDir = dir

	db, err = gorm.Open(sqlite.Open(filepath.Join(testDir, "catalog.db")+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = model.Migrate(db)
	if err != nil {
		panic(err)
	}
}

func TestDB() *gorm.DB {
	return db
}

// Store returns a gorm store on the test database.
func Store() *store.GormStore {
	return store.NewGormStore(db)
}

// Reset deletes every row of every catalog table.
func Reset() {
	for _, table := range []any{
		&model.Document{},
		&model.Collection{},
		&model.SearchIndex{},
		&model.Harvest{},
		&model.DatasetVersion{},
		&model.Extension{},
		&model.Source{},
		&model.Dataset{},
	} {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(table).Error; err != nil {
			panic(err)
		}
	}
}

func RemoveDBFile() {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		db = nil
	}
	if testDir == "" {
		return
	}
	err := os.RemoveAll(testDir)
	if err != nil {
		panic(err)
	}
	testDir = ""
}
