package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Label mirrors a GitLab project label. Owned by the label synchronizer.
type Label struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProjectPath string    `gorm:"size:255;not null;uniqueIndex:idx_label_project_external;index:idx_label_project_name" json:"project_path"`
	ExternalID  int       `gorm:"not null;uniqueIndex:idx_label_project_external" json:"external_id"`
	Name        string    `gorm:"size:255;not null;index:idx_label_project_name" json:"name"`
	Color       string    `gorm:"size:20" json:"color"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Label) TableName() string { return "gitlab_labels" }

// Assignee mirrors a GitLab user. Owned by the assignee synchronizer.
type Assignee struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExternalID  int       `gorm:"uniqueIndex;not null" json:"external_id"`
	Username    string    `gorm:"size:255;index" json:"username"`
	DisplayName string    `gorm:"size:255;index" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email"`
	State       string    `gorm:"size:50" json:"state"`
	AvatarURL   string    `gorm:"size:500" json:"avatar_url"`
	WebURL      string    `gorm:"size:500" json:"web_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Assignee) TableName() string { return "gitlab_assignees" }

type Commit struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SHA         string         `gorm:"size:64;uniqueIndex;not null" json:"sha"`
	ProjectPath string         `gorm:"size:255;index" json:"project_path"`
	Title       string         `gorm:"size:500" json:"title"`
	Message     string         `gorm:"type:text" json:"message"`
	AuthorName  string         `gorm:"size:255" json:"author_name"`
	AuthorEmail string         `gorm:"size:255" json:"author_email"`
	WebURL      string         `gorm:"size:500" json:"web_url"`
	CommittedAt *time.Time     `gorm:"index" json:"committed_at"`
	RawPayload  datatypes.JSON `json:"-"`
	Diffs       []CommitDiff   `gorm:"constraint:OnDelete:CASCADE" json:"diffs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Commit) TableName() string { return "gitlab_commits" }

type CommitDiff struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CommitID    uint      `gorm:"index;not null" json:"commit_id"`
	OldPath     string    `gorm:"size:500" json:"old_path"`
	NewPath     string    `gorm:"size:500" json:"new_path"`
	NewFile     bool      `json:"new_file"`
	RenamedFile bool      `json:"renamed_file"`
	DeletedFile bool      `json:"deleted_file"`
	Diff        string    `gorm:"type:text" json:"diff"`
	CreatedAt   time.Time `json:"created_at"`
}

func (CommitDiff) TableName() string { return "gitlab_commit_diffs" }

func (d *CommitDiff) ChangeLabel() string {
	switch {
	case d.NewFile:
		return "added"
	case d.DeletedFile:
		return "deleted"
	case d.RenamedFile:
		return "renamed"
	default:
		return "modified"
	}
}

func (d *CommitDiff) DisplayPath() string {
	if d.RenamedFile && d.OldPath != "" && d.OldPath != d.NewPath {
		return d.OldPath + " -> " + d.NewPath
	}
	if d.NewPath != "" {
		return d.NewPath
	}
	return d.OldPath
}

// EmbedPayload renders the diff header plus its first 40 lines.
func (d *CommitDiff) EmbedPayload() string {
	lines := strings.Split(d.Diff, "\n")
	if len(lines) > 40 {
		lines = lines[:40]
	}
	return fmt.Sprintf("%s %s\n%s", d.ChangeLabel(), d.DisplayPath(), strings.Join(lines, "\n"))
}

// EmbedPayload renders the commit summary with up to five diff snippets.
func (c *Commit) EmbedPayload(diffs []CommitDiff) string {
	parts := []string{
		fmt.Sprintf("Commit %s (%s)", c.SHA, c.ProjectPath),
		"Title: " + c.Title,
	}
	if c.AuthorName != "" {
		parts = append(parts, "Author: "+c.AuthorName)
	}
	if c.CommittedAt != nil {
		parts = append(parts, "Committed at: "+c.CommittedAt.Format(time.RFC3339))
	}
	if strings.TrimSpace(c.Message) != "" {
		parts = append(parts, "\nMessage:\n"+strings.TrimSpace(c.Message))
	}
	for i := range diffs {
		if i == 5 {
			break
		}
		parts = append(parts, diffs[i].EmbedPayload())
	}
	return strings.Join(parts, "\n\n")
}
