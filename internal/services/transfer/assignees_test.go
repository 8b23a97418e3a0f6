package transfer

import (
	"context"
	"reflect"
	"testing"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
)

func TestFullName(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"Mustermann, Max", "Max Mustermann"},
		{" Doe ,  Jane ", "Jane Doe"},
		{"Max Mustermann", ""},
		{"a, b, c", ""},
	}
	for _, tt := range tests {
		if got := fullName(tt.in); got != tt.expected {
			t.Errorf("fullName(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestAssigneeResolver_Mapping(t *testing.T) {
	tracker := &fakeTracker{users: map[string]*gitlab.User{"mmax": {ID: 21, Username: "mmax"}}}
	resolver := NewAssigneeResolver(nil, tracker, map[string]string{"Mustermann, Max": "@mmax"})

	if got := resolver.Resolve(context.Background(), "mustermann, max"); !reflect.DeepEqual(got, []int{21}) {
		t.Errorf("Resolve(mapped) = %v", got)
	}
	// the inferred "First Last" key maps too
	if got := resolver.Resolve(context.Background(), "Max Mustermann"); !reflect.DeepEqual(got, []int{21}) {
		t.Errorf("Resolve(inferred) = %v", got)
	}
	if tracker.findCalls != 1 {
		t.Errorf("FindUser calls = %d, expected 1 (cached)", tracker.findCalls)
	}
}

func TestAssigneeResolver_NumericAndLocal(t *testing.T) {
	db := newTestDB(t)
	db.Create(&models.Assignee{ExternalID: 7, Username: "max", DisplayName: "Max Mustermann"})
	tracker := &fakeTracker{}
	resolver := NewAssigneeResolver(db, tracker, map[string]string{"Bot": "99"})

	if got := resolver.Resolve(context.Background(), "Bot"); !reflect.DeepEqual(got, []int{99}) {
		t.Errorf("Resolve(numeric) = %v", got)
	}
	if got := resolver.Resolve(context.Background(), "Mustermann, Max"); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("Resolve(local display name) = %v", got)
	}
	if got := resolver.Resolve(context.Background(), "MAX"); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("Resolve(local username) = %v", got)
	}
	if tracker.findCalls+tracker.searchUsers != 0 {
		t.Error("local hits must not call GitLab")
	}
}

func TestAssigneeResolver_RemoteSearch(t *testing.T) {
	tracker := &fakeTracker{userSearch: map[string][]gitlab.User{
		"Jane Doe": {{ID: 1, Name: "Jane Doerr"}, {ID: 2, Name: "jane doe"}},
		"Ann Lee":  {{ID: 5, Name: "Ann-Marie Lee"}},
	}}
	resolver := NewAssigneeResolver(nil, tracker, nil)

	if got := resolver.Resolve(context.Background(), "Doe, Jane"); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("exact name match = %v", got)
	}
	if got := resolver.Resolve(context.Background(), "Lee, Ann"); !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("first result fallback = %v", got)
	}
	if got := resolver.Resolve(context.Background(), "Nobody, Here"); got != nil {
		t.Errorf("miss = %v", got)
	}
	resolver.Resolve(context.Background(), "Nobody, Here")
	if tracker.searchUsers != 3 {
		t.Errorf("SearchUsers calls = %d, expected misses to be cached", tracker.searchUsers)
	}
}

func TestAssigneeResolver_ErrorsAreCachedAsMisses(t *testing.T) {
	tracker := &fakeTracker{userErr: errBoom}
	resolver := NewAssigneeResolver(nil, tracker, nil)

	for i := 0; i < 2; i++ {
		if got := resolver.Resolve(context.Background(), "someone"); got != nil {
			t.Errorf("Resolve() = %v, expected nil", got)
		}
	}
	if tracker.findCalls != 1 {
		t.Errorf("FindUser calls = %d, expected 1", tracker.findCalls)
	}
	if got := resolver.Resolve(context.Background(), "  "); got != nil {
		t.Errorf("blank name = %v", got)
	}
}
