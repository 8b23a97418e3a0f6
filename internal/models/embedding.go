package models

import (
	"time"

	"gorm.io/datatypes"
)

// Source kinds stored in Embedding.SourceKind.
const (
	SourceIssue    = "issue"
	SourceCommit   = "commit"
	SourceWikiPage = "wiki_page"
)

// Embedding holds one vector per source record.
type Embedding struct {
	ID         uint                               `gorm:"primaryKey" json:"id"`
	SourceKind string                             `gorm:"size:50;not null;uniqueIndex:idx_embedding_source" json:"source_kind"`
	SourceID   uint                               `gorm:"not null;uniqueIndex:idx_embedding_source" json:"source_id"`
	Model      string                             `gorm:"size:200" json:"model"`
	Content    string                             `gorm:"type:text" json:"content"`
	Vector     datatypes.JSONType[[]float64]      `json:"-"`
	Metadata   datatypes.JSONType[map[string]any] `json:"metadata"`
	CreatedAt  time.Time                          `json:"created_at"`
	UpdatedAt  time.Time                          `json:"updated_at"`
}

func (Embedding) TableName() string { return "embeddings" }
