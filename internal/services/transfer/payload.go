package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
)

const (
	StateOpened = "opened"
	StateClosed = "closed"
)

var defaultClosedStates = []string{"geschlossen", "closed", "erledigt", "done"}

// RedmineReference is the marker written into every GitLab description and
// searched for during reconciliation.
func RedmineReference(externalID string) string {
	return "Redmine #" + externalID
}

type RedmineRef struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url,omitempty"`
}

type ExternalReferences struct {
	Redmine RedmineRef `json:"redmine"`
}

// GitLabSnapshot is the GitLab-shaped view of a local issue. Payload is the
// body actually sent on create or update.
type GitLabSnapshot struct {
	IID                *int                 `json:"iid,omitempty"`
	ProjectPath        string               `json:"project_path,omitempty"`
	Title              string               `json:"title,omitempty"`
	Description        string               `json:"description,omitempty"`
	Labels             []string             `json:"labels"`
	AssigneeIDs        []int                `json:"assignee_ids"`
	Assignees          []map[string]int     `json:"assignees"`
	WebURL             string               `json:"web_url,omitempty"`
	State              string               `json:"state"`
	Checksum           *string              `json:"checksum,omitempty"`
	LastSyncedAt       string               `json:"last_synced_at,omitempty"`
	UpdatedAt          string               `json:"updated_at,omitempty"`
	CreatedAt          string               `json:"created_at,omitempty"`
	ExternalReferences *ExternalReferences  `json:"external_references,omitempty"`
	Payload            *gitlab.IssuePayload `json:"payload"`
}

// SnapshotBuilder resolves labels and assignees and renders GitLab snapshots.
type SnapshotBuilder struct {
	mapper         *LabelMapper
	resolver       *AssigneeResolver
	redmineBaseURL string
	projectPath    string
	closedStates   []string
}

// NewSnapshotBuilder accepts a nil resolver; the issue's linked assignees
// are used then.
func NewSnapshotBuilder(mapper *LabelMapper, resolver *AssigneeResolver, redmineBaseURL, projectPath string, closedStates []string) *SnapshotBuilder {
	if len(closedStates) == 0 {
		closedStates = defaultClosedStates
	}
	return &SnapshotBuilder{
		mapper:         mapper,
		resolver:       resolver,
		redmineBaseURL: redmineBaseURL,
		projectPath:    projectPath,
		closedStates:   closedStates,
	}
}

func (b *SnapshotBuilder) Build(ctx context.Context, issue *models.Issue) *GitLabSnapshot {
	labels := b.mapper.LabelsFor(issue)
	assigneeIDs := b.assigneeIDs(ctx, issue)
	externalURL := issue.ExternalURL(b.redmineBaseURL)
	description := GitLabDescription(issue, externalURL)

	snapshot := &GitLabSnapshot{
		IID:          issue.GitLabIssueIID,
		ProjectPath:  b.projectPathFor(issue),
		Title:        issue.Title,
		Description:  description,
		Labels:       labels,
		AssigneeIDs:  assigneeIDs,
		Assignees:    make([]map[string]int, 0, len(assigneeIDs)),
		WebURL:       issue.GitLabWebURL,
		State:        IssueState(issue.Status, b.closedStates),
		Checksum:     issue.GitLabSyncChecksum,
		LastSyncedAt: isoTime(issue.GitLabLastSyncedAt),
		UpdatedAt:    isoValue(issue.UpdatedAt),
		CreatedAt:    isoValue(issue.CreatedAt),
		Payload: &gitlab.IssuePayload{
			Title:       issue.Title,
			Description: description,
			Labels:      strings.Join(labels, ","),
			AssigneeIDs: assigneeIDs,
		},
	}
	for _, id := range assigneeIDs {
		snapshot.Assignees = append(snapshot.Assignees, map[string]int{"id": id})
	}
	if issue.ExternalID != "" {
		snapshot.ExternalReferences = &ExternalReferences{
			Redmine: RedmineRef{ExternalID: issue.ExternalID, URL: externalURL},
		}
	}
	return snapshot
}

func (b *SnapshotBuilder) projectPathFor(issue *models.Issue) string {
	if b.projectPath != "" {
		return b.projectPath
	}
	if issue.GitLabProjectPath != nil {
		return *issue.GitLabProjectPath
	}
	return ""
}

// assigneeIDs is empty for planning assignees. Otherwise an unresolvable
// name falls back to the IDs already linked locally.
func (b *SnapshotBuilder) assigneeIDs(ctx context.Context, issue *models.Issue) []int {
	if b.mapper.IsPlanningAssignee(issue.AssigneeName) {
		return []int{}
	}
	var ids []int
	if b.resolver != nil {
		ids = b.resolver.Resolve(ctx, issue.AssigneeName)
	}
	if len(ids) == 0 {
		ids = issue.AssigneeExternalIDs()
	}
	return ids
}

// GitLabDescription renders the back-reference, metadata block and the
// issue text as Markdown.
func GitLabDescription(issue *models.Issue, externalURL string) string {
	var sections []string

	ref := RedmineReference(issue.ExternalID)
	if externalURL != "" {
		sections = append(sections, fmt.Sprintf("**Source:** [%s](%s)", ref, externalURL))
	} else {
		sections = append(sections, "**Source:** "+ref)
	}

	var meta []string
	for _, field := range []struct{ label, value string }{
		{"Tracker", issue.Tracker},
		{"Status", issue.Status},
		{"Priority", issue.Priority},
		{"Assignee", issue.AssigneeName},
		{"Author", issue.AuthorName},
	} {
		if strings.TrimSpace(field.value) != "" {
			meta = append(meta, fmt.Sprintf("**%s:** %s", field.label, field.value))
		}
	}
	if len(meta) > 0 {
		sections = append(sections, strings.Join(meta, "\n"))
	}

	text := strings.TrimSpace(strings.ReplaceAll(issue.Description, "\r\n", "\n"))
	if text != "" {
		sections = append(sections, "### Description\n\n"+text)
	}
	return strings.Join(sections, "\n\n")
}

// IssueState is closed when the status contains any closed synonym.
func IssueState(status string, closedStates []string) string {
	value := strings.ToLower(status)
	for _, closed := range closedStates {
		closed = strings.ToLower(strings.TrimSpace(closed))
		if closed != "" && strings.Contains(value, closed) {
			return StateClosed
		}
	}
	return StateOpened
}

// Checksum hashes title, description, sorted labels and sorted assignee IDs.
// Input order of labels and IDs does not affect the result.
func Checksum(title, description string, labels []string, assigneeIDs []int) string {
	sortedLabels := append([]string(nil), labels...)
	sort.Strings(sortedLabels)
	sortedIDs := append([]int(nil), assigneeIDs...)
	sort.Ints(sortedIDs)

	ids := make([]string, len(sortedIDs))
	for i, id := range sortedIDs {
		ids[i] = strconv.Itoa(id)
	}

	parts := []string{title, description, strings.Join(sortedLabels, ","), strings.Join(ids, ",")}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// BuildRedminePayload renders the issue in the shape of the Redmine issue
// API. Blank values are omitted.
func BuildRedminePayload(issue *models.Issue, fields config.CustomFieldNames) map[string]interface{} {
	payload := map[string]interface{}{}
	set := func(key string, value interface{}) {
		if value != nil {
			payload[key] = value
		}
	}

	if issue.ExternalID != "" {
		if n, err := strconv.Atoi(issue.ExternalID); err == nil {
			payload["id"] = n
		} else {
			payload["id"] = issue.ExternalID
		}
	}
	if issue.Title != "" {
		payload["subject"] = issue.Title
	}
	if issue.Description != "" {
		payload["description"] = issue.Description
	}
	set("status", named(issue.Status))
	set("tracker", named(issue.Tracker))
	set("priority", named(issue.Priority))
	if issue.ProjectIdentifier != "" {
		payload["project"] = map[string]interface{}{
			"identifier": issue.ProjectIdentifier,
			"name":       issue.ProjectIdentifier,
		}
	}
	set("assigned_to", named(issue.AssigneeName))
	set("author", named(issue.AuthorName))
	if !issue.CreatedAt.IsZero() {
		payload["start_date"] = issue.CreatedAt.Format("2006-01-02")
		payload["created_on"] = isoValue(issue.CreatedAt)
	}
	if issue.UpdatedOn != nil {
		payload["updated_on"] = isoValue(*issue.UpdatedOn)
	}
	if issue.ClosedOn != nil {
		payload["closed_on"] = isoValue(*issue.ClosedOn)
	}
	payload["custom_fields"] = redmineCustomFields(issue, fields)

	if issue.FixedVersionID != nil || issue.FixedVersionName != "" {
		version := map[string]interface{}{}
		if issue.FixedVersionID != nil {
			version["id"] = *issue.FixedVersionID
		}
		if issue.FixedVersionName != "" {
			version["name"] = issue.FixedVersionName
		}
		payload["fixed_version"] = version
	}
	return payload
}

func redmineCustomFields(issue *models.Issue, fields config.CustomFieldNames) []map[string]interface{} {
	out := []map[string]interface{}{}
	add := func(name, value string) {
		if name == "" || value == "" {
			return
		}
		out = append(out, map[string]interface{}{"name": name, "value": value})
	}

	add(fields.ReleaseNotes, issue.ReleaseNotes)
	if issue.ReleaseNotesPublish != nil {
		flag := "0"
		if *issue.ReleaseNotesPublish {
			flag = "1"
		}
		add(fields.ReleaseNotesPublish, flag)
	}
	if issue.FollowUpOn != nil {
		add(fields.FollowUpOn, issue.FollowUpOn.Format("2006-01-02"))
	}
	add(fields.Complexity, issue.Complexity)
	add(fields.Category, issue.CategoryName)
	add(fields.ValidFor, issue.ValidFor)
	return out
}

func named(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return map[string]interface{}{"name": value}
}

func isoTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return isoValue(*t)
}

func isoValue(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
