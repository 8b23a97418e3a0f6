package transfer

import (
	"strings"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
)

// LabelMapper turns Redmine taxonomy into GitLab label names.
type LabelMapper struct {
	tables    config.LabelTables
	planning  map[string]bool
	available map[string]bool
}

// NewLabelMapper builds a mapper. When available is empty no filtering is
// applied, since there is nothing to validate against.
func NewLabelMapper(tables config.LabelTables, planningAssignees []string, available []string) *LabelMapper {
	m := &LabelMapper{tables: tables, planning: map[string]bool{}}
	for _, name := range planningAssignees {
		if key := normalizeKey(name); key != "" {
			m.planning[key] = true
		}
	}
	for _, name := range available {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if m.available == nil {
			m.available = map[string]bool{}
		}
		m.available[name] = true
	}
	return m
}

// IsPlanningAssignee reports whether name is a shared planning inbox.
func (m *LabelMapper) IsPlanningAssignee(name string) bool {
	key := normalizeKey(name)
	return key != "" && m.planning[key]
}

func (m *LabelMapper) PlanningLabel() string {
	if m.tables.PlanningLabel != "" {
		return m.tables.PlanningLabel
	}
	return "status::planning"
}

// LabelsFor maps tracker, status, priority, release, environment and
// complexity. A planning assignee replaces the status label with the
// planning label.
func (m *LabelMapper) LabelsFor(issue *models.Issue) []string {
	planning := m.IsPlanningAssignee(issue.AssigneeName)

	var labels []string
	labels = append(labels, m.tables.Tracker[issue.Tracker])
	if !planning {
		labels = append(labels, m.tables.Status[issue.Status])
	}
	labels = append(labels, m.tables.Priority[issue.Priority])
	if issue.FixedVersionName != "" {
		labels = append(labels, m.tables.Release[issue.FixedVersionName])
	}
	if issue.ValidFor != "" {
		// multi-value custom fields are stored joined with ", "
		for _, value := range strings.Split(issue.ValidFor, ",") {
			labels = append(labels, m.tables.Environment[strings.TrimSpace(value)])
		}
	}
	labels = append(labels, m.tables.Complexity[issue.Complexity])
	if planning {
		labels = append(labels, m.PlanningLabel())
	}

	return m.filter(uniqueNonEmpty(labels))
}

func (m *LabelMapper) filter(labels []string) []string {
	if m.available == nil {
		return labels
	}
	kept := make([]string, 0, len(labels))
	for _, label := range labels {
		if m.available[label] {
			kept = append(kept, label)
		}
	}
	return kept
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
