package redmine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/syncerr"
	"gorm.io/datatypes"
)

type NamedRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ProjectRef struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// CustomField keeps Value untyped: Redmine sends strings, arrays or null
// depending on the field definition.
type CustomField struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Multiple bool            `json:"multiple"`
	Value    json.RawMessage `json:"value"`
}

// StringValue flattens the field value. Arrays are joined with ", ".
func (f CustomField) StringValue() string {
	raw := bytes.TrimSpace(f.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item == nil {
				continue
			}
			if v := strings.TrimSpace(fmt.Sprint(item)); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, ", ")
	}

	return strings.TrimSpace(string(raw))
}

// IssueRecord is the subset of a Redmine issue the importer understands.
type IssueRecord struct {
	ID           int           `json:"id"`
	Project      *ProjectRef   `json:"project"`
	Tracker      *NamedRef     `json:"tracker"`
	Status       *NamedRef     `json:"status"`
	Priority     *NamedRef     `json:"priority"`
	AssignedTo   *NamedRef     `json:"assigned_to"`
	Author       *NamedRef     `json:"author"`
	FixedVersion *NamedRef     `json:"fixed_version"`
	Subject      string        `json:"subject"`
	Description  string        `json:"description"`
	CreatedOn    string        `json:"created_on"`
	UpdatedOn    string        `json:"updated_on"`
	ClosedOn     string        `json:"closed_on"`
	CustomFields []CustomField `json:"custom_fields"`
}

// DecodeIssue parses one raw issue. Malformed input and missing identity
// fields are reported as *syncerr.TransformError.
func DecodeIssue(raw json.RawMessage) (*IssueRecord, error) {
	var record IssueRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, &syncerr.TransformError{Source: "redmine_issue", Err: err}
	}
	if record.ID <= 0 {
		return nil, &syncerr.TransformError{Source: "redmine_issue", Err: errors.New("missing id")}
	}
	if strings.TrimSpace(record.Subject) == "" {
		return nil, &syncerr.TransformError{
			Source:   "redmine_issue",
			SourceID: strconv.Itoa(record.ID),
			Err:      errors.New("missing subject"),
		}
	}
	return &record, nil
}

func (r *IssueRecord) ExternalID() string {
	return strconv.Itoa(r.ID)
}

func (r *IssueRecord) customField(name string) (CustomField, bool) {
	if name == "" {
		return CustomField{}, false
	}
	for _, f := range r.CustomFields {
		if strings.EqualFold(strings.TrimSpace(f.Name), name) {
			return f, true
		}
	}
	return CustomField{}, false
}

func (r *IssueRecord) customValue(name string) string {
	f, ok := r.customField(name)
	if !ok {
		return ""
	}
	return f.StringValue()
}

// Apply copies the record onto issue. Linkage columns are left untouched.
func (r *IssueRecord) Apply(issue *models.Issue, fields config.CustomFieldNames, fallbackProject string, raw json.RawMessage) {
	issue.ExternalID = r.ExternalID()
	issue.ProjectIdentifier = fallbackProject
	if r.Project != nil && r.Project.Identifier != "" {
		issue.ProjectIdentifier = r.Project.Identifier
	}
	issue.Title = strings.TrimSpace(r.Subject)
	issue.Description = r.Description
	issue.Tracker = refName(r.Tracker)
	issue.Status = refName(r.Status)
	issue.Priority = refName(r.Priority)
	issue.AssigneeName = refName(r.AssignedTo)
	issue.AuthorName = refName(r.Author)
	issue.ClosedOn = parseTime(r.ClosedOn)
	issue.UpdatedOn = parseTime(r.UpdatedOn)

	issue.ReleaseNotes = r.customValue(fields.ReleaseNotes)
	issue.ReleaseNotesPublish = parseBool(r.customValue(fields.ReleaseNotesPublish))
	issue.FollowUpOn = parseTime(r.customValue(fields.FollowUpOn))
	issue.Complexity = r.customValue(fields.Complexity)
	issue.CategoryName = r.customValue(fields.Category)
	issue.ValidFor = r.customValue(fields.ValidFor)

	issue.FixedVersionID = nil
	issue.FixedVersionName = ""
	if r.FixedVersion != nil {
		if r.FixedVersion.ID > 0 {
			id := r.FixedVersion.ID
			issue.FixedVersionID = &id
		}
		issue.FixedVersionName = r.FixedVersion.Name
	}

	issue.RawPayload = datatypes.JSON(raw)
}

func refName(ref *NamedRef) string {
	if ref == nil {
		return ""
	}
	return strings.TrimSpace(ref.Name)
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime returns nil for blank or unparseable values.
func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func parseBool(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "ja":
		b := true
		return &b
	case "0", "false", "no", "nein":
		b := false
		return &b
	default:
		return nil
	}
}
