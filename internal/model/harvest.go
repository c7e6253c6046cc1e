package model

import (
	"time"

	"gorm.io/gorm"
)

type HarvestStage string

const (
	HarvestStageNew      HarvestStage = "new"
	HarvestStageBasic    HarvestStage = "basic"
	HarvestStageMetadata HarvestStage = "metadata"
	HarvestStagePreview  HarvestStage = "preview"
	HarvestStageComplete HarvestStage = "complete"
)

var stageOrder = map[HarvestStage]int{
	HarvestStageNew:      0,
	HarvestStageBasic:    1,
	HarvestStageMetadata: 2,
	HarvestStagePreview:  3,
	HarvestStageComplete: 4,
}

// Rank returns the position of the stage in the harvest pipeline, -1 if unknown.
func (s HarvestStage) Rank() int {
	rank, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return rank
}

// Before reports whether s comes strictly before other in the pipeline.
func (s HarvestStage) Before(other HarvestStage) bool {
	return s.Rank() < other.Rank()
}

// BeginningOfTime is the high-water mark of a harvest that has never run.
var BeginningOfTime = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Source is an external metadata repository a dataset is harvested from.
// The collection a source harvests into carries the source name.
type Source struct {
	gorm.Model
	Name     string `gorm:"uniqueIndex;not null"`
	Module   string `gorm:"not null"`
	Endpoint string `gorm:"not null"`
	SetSpec  string
}

func (Source) TableName() string {
	return "sources"
}

// Harvest tracks one source harvested into one dataset.
type Harvest struct {
	ID             uint         `gorm:"primaryKey"`
	DatasetID      uint         `gorm:"not null;uniqueIndex:idx_harvests_dataset_source"`
	Dataset        *Dataset     `gorm:"foreignKey:DatasetID"`
	SourceID       uint         `gorm:"not null;uniqueIndex:idx_harvests_dataset_source"`
	Source         *Source      `gorm:"foreignKey:SourceID"`
	Stage          HarvestStage `gorm:"not null;default:new"`
	LatestUpdateAt time.Time    `gorm:"not null"`
	HarvestedAt    *time.Time
	IsSyncing      bool `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Harvest) TableName() string {
	return "harvests"
}
