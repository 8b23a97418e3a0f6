package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Issue is the local copy of a Redmine issue plus its GitLab linkage.
// The GitLab columns are written only by the publisher.
type Issue struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	ExternalID          string         `gorm:"size:50;uniqueIndex;not null" json:"external_id"`
	ProjectIdentifier   string         `gorm:"size:200;index;not null" json:"project_identifier"`
	Title               string         `gorm:"size:500;not null" json:"title"`
	Description         string         `gorm:"type:text" json:"description"`
	Tracker             string         `gorm:"size:100" json:"tracker"`
	Status              string         `gorm:"size:100;index" json:"status"`
	Priority            string         `gorm:"size:100" json:"priority"`
	AssigneeName        string         `gorm:"size:200" json:"assignee_name"`
	AuthorName          string         `gorm:"size:200" json:"author_name"`
	ClosedOn            *time.Time     `json:"closed_on"`
	UpdatedOn           *time.Time     `gorm:"index" json:"updated_on"`
	ReleaseNotes        string         `gorm:"type:text" json:"release_notes"`
	ReleaseNotesPublish *bool          `json:"release_notes_publish"`
	FollowUpOn          *time.Time     `json:"follow_up_on"`
	Complexity          string         `gorm:"size:100" json:"complexity"`
	CategoryName        string         `gorm:"size:200" json:"category_name"`
	ValidFor            string         `gorm:"size:200" json:"valid_for"`
	FixedVersionID      *int           `json:"fixed_version_id"`
	FixedVersionName    string         `gorm:"size:200" json:"fixed_version_name"`
	RawPayload          datatypes.JSON `json:"-"`

	GitLabIssueIID     *int       `gorm:"column:gitlab_issue_iid;uniqueIndex:idx_issue_gitlab_link" json:"gitlab_issue_iid"`
	GitLabProjectPath  *string    `gorm:"column:gitlab_issue_project_path;size:255;uniqueIndex:idx_issue_gitlab_link" json:"gitlab_issue_project_path"`
	GitLabWebURL       string     `gorm:"column:gitlab_issue_web_url;size:500" json:"gitlab_issue_web_url"`
	GitLabSyncChecksum *string    `gorm:"column:gitlab_sync_checksum;size:64" json:"gitlab_sync_checksum"`
	GitLabLastSyncedAt *time.Time `gorm:"column:gitlab_last_synced_at" json:"gitlab_last_synced_at"`

	Labels    []Label    `gorm:"many2many:issue_labels;" json:"labels,omitempty"`
	Assignees []Assignee `gorm:"many2many:issue_assignees;" json:"assignees,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Issue) TableName() string { return "issues" }

// ExternalURL builds the Redmine issue URL; empty when baseURL is blank or invalid.
func (i *Issue) ExternalURL(baseURL string) string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse("issues/" + url.PathEscape(i.ExternalID))
	if err != nil {
		return ""
	}
	return u.ResolveReference(ref).String()
}

// LabelNames returns the linked label names, sorted.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	sort.Strings(names)
	return names
}

// AssigneeExternalIDs returns the linked GitLab user IDs, sorted.
func (i *Issue) AssigneeExternalIDs() []int {
	ids := make([]int, 0, len(i.Assignees))
	for _, a := range i.Assignees {
		ids = append(ids, a.ExternalID)
	}
	sort.Ints(ids)
	return ids
}

// EmbedPayload is the text indexed for semantic search.
func (i *Issue) EmbedPayload() string {
	parts := []string{
		fmt.Sprintf("Issue #%s (%s)", i.ExternalID, i.ProjectIdentifier),
		"Title: " + i.Title,
	}
	appendIf := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}
	appendIf("Tracker", i.Tracker)
	appendIf("Status", i.Status)
	appendIf("Priority", i.Priority)
	appendIf("Assignee", i.AssigneeName)
	appendIf("Author", i.AuthorName)
	if i.ClosedOn != nil {
		parts = append(parts, "Closed on: "+i.ClosedOn.Format(time.RFC3339))
	}
	if i.UpdatedOn != nil {
		parts = append(parts, "Updated on: "+i.UpdatedOn.Format(time.RFC3339))
	}
	parts = append(parts, "\nDescription:\n"+i.Description)
	return strings.Join(parts, "\n\n")
}
