package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Extension is a manually curated overlay on a harvested document, or a
// manually added item when IsAddition is set. The id is supplied by the author
// and matches the reference of the document it extends.
type Extension struct {
	ID         string            `gorm:"primaryKey"`
	DatasetID  uint              `gorm:"not null;index"`
	Properties datatypes.JSONMap `gorm:"not null"`
	IsAddition bool              `gorm:"not null;default:false"`
	IsParent   bool              `gorm:"not null;default:false"`
	Language   string            `gorm:"not null;default:unk"`
	CreatedAt  time.Time         `gorm:"not null"`
	ModifiedAt time.Time         `gorm:"not null;index"`
	DeletedAt  gorm.DeletedAt    `gorm:"index"`
}

func (Extension) TableName() string {
	return "extensions"
}
