package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type WikiPage struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	ExternalID        string         `gorm:"size:255;uniqueIndex;not null" json:"external_id"`
	ProjectIdentifier string         `gorm:"size:200;index" json:"project_identifier"`
	Title             string         `gorm:"size:500;not null" json:"title"`
	Slug              string         `gorm:"size:500;index" json:"slug"`
	Summary           string         `gorm:"size:500" json:"summary"`
	Content           string         `gorm:"type:text" json:"content"`
	Version           int            `json:"version"`
	UpdatedOn         *time.Time     `json:"updated_on"`
	RawPayload        datatypes.JSON `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (WikiPage) TableName() string { return "wiki_pages" }

func (w *WikiPage) EmbedPayload() string {
	return strings.Join([]string{
		fmt.Sprintf("Wiki page %s (%s)", w.Title, w.ProjectIdentifier),
		"Summary: " + w.Summary,
		"\nContent:\n" + w.Content,
	}, "\n\n")
}
