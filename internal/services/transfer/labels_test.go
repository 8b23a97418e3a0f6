package transfer

import (
	"reflect"
	"testing"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
)

func TestLabelMapper_LabelsFor(t *testing.T) {
	cfg := config.DefaultConfig()
	issue := &models.Issue{
		Tracker:          "Error",
		Status:           "Neu",
		Priority:         "Hoch",
		FixedVersionName: "Zukunft",
		ValidFor:         "Prerelease, Featurefreeze",
		Complexity:       "normal",
	}

	mapper := NewLabelMapper(cfg.Sync.Labels, cfg.Sync.PlanningAssignees, nil)
	got := mapper.LabelsFor(issue)
	expected := []string{
		"type::error", "status::new", "priority::2-high", "release::future",
		"env::prerelease", "env::featurefreeze", "complexity::normal",
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("LabelsFor() = %v, expected %v", got, expected)
	}
}

func TestLabelMapper_FiltersUnknownLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	issue := &models.Issue{Status: "Neu", Priority: "Hoch", Tracker: "Unmapped"}

	mapper := NewLabelMapper(cfg.Sync.Labels, nil, []string{"status::new", " "})
	got := mapper.LabelsFor(issue)
	if !reflect.DeepEqual(got, []string{"status::new"}) {
		t.Errorf("LabelsFor() = %v, expected only status::new", got)
	}
}

func TestLabelMapper_PlanningOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	issue := &models.Issue{Status: "In Arbeit", Priority: "Normal", AssigneeName: "  IQ, Planung "}

	mapper := NewLabelMapper(cfg.Sync.Labels, cfg.Sync.PlanningAssignees, nil)
	if !mapper.IsPlanningAssignee(issue.AssigneeName) {
		t.Fatal("expected planning assignee match")
	}
	got := mapper.LabelsFor(issue)
	expected := []string{"priority::3-normal", "status::planning"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("LabelsFor() = %v, expected %v", got, expected)
	}
}

func TestLabelMapper_Dedupes(t *testing.T) {
	tables := config.LabelTables{
		Status:   map[string]string{"Planung": "status::planning"},
		Priority: map[string]string{},
	}
	issue := &models.Issue{Status: "Planung", AssigneeName: "#support, iq-anae(neues tickets-user)"}

	// the planning label replaces the status mapping
	mapper := NewLabelMapper(tables, []string{"#Support, IQ-ANAE(neues Tickets-User)"}, nil)
	got := mapper.LabelsFor(issue)
	if !reflect.DeepEqual(got, []string{"status::planning"}) {
		t.Errorf("LabelsFor() = %v", got)
	}
}
