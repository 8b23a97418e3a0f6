package services

import (
	"testing"
	"time"

	"github.com/huangang/trackersync/internal/models"
)

func TestSystemLogService_ListFilters(t *testing.T) {
	db := newTestDB(t)
	InitSystemLogger(db)
	defer InitSystemLogger(nil)

	LogInfo(LogEntry{Module: "issue_sync", Action: "run_completed", Message: "imported 3 issues", Scope: "core"})
	LogWarning(LogEntry{Module: "issue_sync", Action: "lock_busy", Message: "issue sync already running", Scope: "core"})
	LogError(LogEntry{Module: "sync", Action: "wiki", Message: "wiki refresh failed", Scope: "docs"})

	svc := NewSystemLogService(db)
	tests := []struct {
		name     string
		req      SystemLogListRequest
		expected int64
	}{
		{"all", SystemLogListRequest{}, 3},
		{"scope", SystemLogListRequest{Scope: "core"}, 2},
		{"level", SystemLogListRequest{Level: "warning"}, 1},
		{"action substring", SystemLogListRequest{Action: "run"}, 1},
		{"message search", SystemLogListRequest{Search: "wiki"}, 1},
		{"future since", SystemLogListRequest{Since: "2999-01-01"}, 0},
	}
	for _, tt := range tests {
		resp, err := svc.List(&tt.req)
		if err != nil {
			t.Errorf("%s: List() error = %v", tt.name, err)
			continue
		}
		if resp.Total != tt.expected {
			t.Errorf("%s: total = %d, expected %d", tt.name, resp.Total, tt.expected)
		}
	}

	if _, err := svc.List(&SystemLogListRequest{Until: "not a date at all"}); err == nil {
		t.Error("expected error for unparseable until")
	}
}

func TestSystemLogService_CleanupOldLogs(t *testing.T) {
	db := newTestDB(t)
	old := models.NewSystemLog(models.LogLevelInfo, "sync", "labels", "old", nil)
	old.CreatedAt = time.Now().AddDate(0, 0, -40)
	fresh := models.NewSystemLog(models.LogLevelInfo, "sync", "labels", "fresh", nil)
	db.Create(old)
	db.Create(fresh)

	svc := NewSystemLogService(db)
	if deleted, _ := svc.CleanupOldLogs(0); deleted != 0 {
		t.Errorf("retention 0 deleted %d", deleted)
	}
	deleted, err := svc.CleanupOldLogs(30)
	if err != nil {
		t.Fatalf("CleanupOldLogs() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, expected 1", deleted)
	}
}
