package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Dataset{},
		&DatasetVersion{},
		&Source{},
		&Harvest{},
		&Collection{},
		&Document{},
		&Extension{},
		&SearchIndex{},
	)
}
