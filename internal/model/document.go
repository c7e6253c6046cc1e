package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type DocumentState string

const (
	DocumentStateActive   DocumentState = "active"
	DocumentStateInactive DocumentState = "inactive"
	DocumentStateDeleted  DocumentState = "deleted"
)

const (
	// LanguageProperty is the property the search language of a document is read from.
	LanguageProperty = "language"
	UnknownLanguage  = "unk"
)

// Document is one harvested content item. Documents are never hard deleted by
// reconciliation, their state moves to deleted instead.
type Document struct {
	ID               uint              `gorm:"primaryKey"`
	Reference        string            `gorm:"not null;index:idx_documents_collection_reference"`
	Properties       datatypes.JSONMap `gorm:"not null"`
	State            DocumentState     `gorm:"not null;default:active;index"`
	Language         string            `gorm:"not null;default:unk;index"`
	CollectionID     *uint             `gorm:"index:idx_documents_collection_reference"`
	DatasetVersionID *uint             `gorm:"index"`
	CreatedAt        time.Time         `gorm:"not null"`
	ModifiedAt       time.Time         `gorm:"not null;index"`
}

func (Document) TableName() string {
	return "documents"
}

// IsActive reports whether the document should be visible in search.
func (d *Document) IsActive() bool {
	return d.State == DocumentStateActive
}

// NeverUpdated reports whether the document was not modified since it was inserted.
func (d *Document) NeverUpdated() bool {
	return d.CreatedAt.Truncate(time.Second).Equal(d.ModifiedAt.Truncate(time.Second))
}

// DetectLanguage returns the language property of a properties map, or an empty string.
func DetectLanguage(properties map[string]any) string {
	if properties == nil {
		return ""
	}
	language, ok := properties[LanguageProperty].(string)
	if !ok {
		return ""
	}
	return language
}

// SameProperties compares two property maps by their canonical JSON encoding.
func SameProperties(a, b map[string]any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(left) == string(right)
}

func (d *Document) MarshalBinary() ([]byte, error) {
	return json.Marshal(d)
}
