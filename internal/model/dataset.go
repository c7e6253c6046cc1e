package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gorm.io/gorm"
)

var datasetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// Dataset is a named content catalog.
type Dataset struct {
	gorm.Model
	Name     string `gorm:"uniqueIndex;not null"`
	IsActive bool   `gorm:"not null"`
}

func (Dataset) TableName() string {
	return "datasets"
}

// ValidDatasetName reports whether name can be used in remote index names.
func ValidDatasetName(name string) bool {
	return datasetNamePattern.MatchString(name)
}

// DatasetVersion is an immutable numbered snapshot of a Dataset.
// Exactly one version per dataset has IsCurrent set once the dataset has been harvested.
type DatasetVersion struct {
	ID        uint     `gorm:"primaryKey"`
	DatasetID uint     `gorm:"not null;uniqueIndex:idx_dataset_versions_dataset_version"`
	Dataset   *Dataset `gorm:"foreignKey:DatasetID"`
	Version   string   `gorm:"not null;uniqueIndex:idx_dataset_versions_dataset_version"`
	IsCurrent bool     `gorm:"not null;default:false;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DatasetVersion) TableName() string {
	return "dataset_versions"
}

// FormatVersion renders a version number as the zero padded version string.
func FormatVersion(number int) string {
	return fmt.Sprintf("%03d", number)
}

// VersionNumber parses the version string back into its number.
func (v *DatasetVersion) VersionNumber() int {
	number, err := strconv.Atoi(v.Version)
	if err != nil {
		return 0
	}
	return number
}

// Collection is a per source partition of documents within a dataset version.
// A forwarded collection shares the documents of the collection it was forwarded
// from until it is rewritten (materialized) in its own version.
type Collection struct {
	ID               uint   `gorm:"primaryKey"`
	Name             string `gorm:"not null;index"`
	DatasetVersionID *uint  `gorm:"index"`
	ForwardedFromID  *uint  `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Collection) TableName() string {
	return "collections"
}

// IsForwarded reports whether the collection still shares the documents of an older version.
func (c *Collection) IsForwarded() bool {
	return c.ForwardedFromID != nil
}

// DocumentSource returns the id of the collection that owns the documents of c.
func (c *Collection) DocumentSource() uint {
	if c.ForwardedFromID != nil {
		return *c.ForwardedFromID
	}
	return c.ID
}
