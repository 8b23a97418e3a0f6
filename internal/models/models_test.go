package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSyncSchedule_Checkpoint(t *testing.T) {
	run := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	success := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	s := &SyncSchedule{}
	if s.Checkpoint() != nil {
		t.Error("new schedule should have no checkpoint")
	}
	s.LastRunAt = &run
	if !s.Checkpoint().Equal(run) {
		t.Errorf("checkpoint = %v, expected last run", s.Checkpoint())
	}
	s.LastSuccessAt = &success
	if !s.Checkpoint().Equal(success) {
		t.Errorf("checkpoint = %v, expected last success", s.Checkpoint())
	}
}

func TestSyncSchedule_Lifecycle(t *testing.T) {
	db := newTestDB(t)

	s, err := FetchSchedule(db, "jobs:redmine_issue_sync", "")
	if err != nil {
		t.Fatalf("FetchSchedule() error = %v", err)
	}
	other, err := FetchSchedule(db, "jobs:redmine_issue_sync", "42")
	if err != nil {
		t.Fatalf("FetchSchedule() error = %v", err)
	}
	if s.ID == other.ID {
		t.Fatal("different scopes must map to different rows")
	}

	started := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	if err := s.MarkStarted(db, started); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordError(db, "boom"); err != nil {
		t.Fatal(err)
	}

	reloaded, _ := FetchSchedule(db, "jobs:redmine_issue_sync", "")
	if reloaded.ID != s.ID {
		t.Fatalf("FetchSchedule returned new row %d, expected %d", reloaded.ID, s.ID)
	}
	if reloaded.LastError != "boom" || reloaded.LastSuccessAt != nil {
		t.Errorf("after error: %+v", reloaded)
	}
	if reloaded.Checkpoint() == nil || !reloaded.Checkpoint().Equal(started) {
		t.Errorf("checkpoint = %v, expected %v", reloaded.Checkpoint(), started)
	}

	done := started.Add(time.Minute)
	if err := s.MarkSucceeded(db, done); err != nil {
		t.Fatal(err)
	}
	reloaded, _ = FetchSchedule(db, "jobs:redmine_issue_sync", "")
	if reloaded.LastError != "" {
		t.Errorf("LastError = %q, expected cleared", reloaded.LastError)
	}
	if !reloaded.Checkpoint().Equal(done) {
		t.Errorf("checkpoint = %v, expected %v", reloaded.Checkpoint(), done)
	}
}

func TestSchedulerLock_AcquireAndRelease(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	ok, err := TryAcquireLock(db, "issue_sync", "proj", "owner-a", 10*time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, _ = TryAcquireLock(db, "issue_sync", "proj", "owner-b", 10*time.Minute, now.Add(time.Minute))
	if ok {
		t.Error("second owner must not acquire a live lock")
	}

	ok, _ = TryAcquireLock(db, "issue_sync", "proj", "owner-a", 10*time.Minute, now.Add(time.Minute))
	if !ok {
		t.Error("holder should be able to re-acquire")
	}

	ok, _ = TryAcquireLock(db, "issue_sync", "proj", "owner-b", 10*time.Minute, now.Add(30*time.Minute))
	if !ok {
		t.Error("expired lock should be taken over")
	}

	if err := ReleaseLock(db, "issue_sync", "proj", "owner-a"); err != nil {
		t.Fatal(err)
	}
	ok, _ = TryAcquireLock(db, "issue_sync", "proj", "owner-c", 10*time.Minute, now.Add(31*time.Minute))
	if ok {
		t.Error("release by a non-holder must not free the lock")
	}

	if err := ReleaseLock(db, "issue_sync", "proj", "owner-b"); err != nil {
		t.Fatal(err)
	}
	ok, _ = TryAcquireLock(db, "issue_sync", "proj", "owner-c", 10*time.Minute, now.Add(31*time.Minute))
	if !ok {
		t.Error("lock should be free after holder released it")
	}
}

func TestSchedulerLock_Renew(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	if ok, err := TryAcquireLock(db, "issue_sync", "proj", "owner-a", 10*time.Minute, now); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}

	ok, err := RenewLock(db, "issue_sync", "proj", "owner-a", 10*time.Minute, now.Add(8*time.Minute))
	if err != nil || !ok {
		t.Fatalf("renew = %v, %v", ok, err)
	}
	// the original expiry has passed but the renewed lock is still live
	if ok, _ := TryAcquireLock(db, "issue_sync", "proj", "owner-b", 10*time.Minute, now.Add(12*time.Minute)); ok {
		t.Error("renewed lock must not be taken over")
	}

	if ok, _ := RenewLock(db, "issue_sync", "proj", "owner-b", 10*time.Minute, now); ok {
		t.Error("non-holder must not renew")
	}
}

func TestSchedulerLock_InsertFailureIsAnError(t *testing.T) {
	db := newTestDB(t)
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_lock_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "scheduler_locks" {
			tx.AddError(errors.New("disk I/O error"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	ok, err := TryAcquireLock(db, "issue_sync", "proj", "owner-a", time.Minute, time.Now())
	if ok || err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("acquire = %v, %v, expected the insert error", ok, err)
	}
}

func TestIssue_ExternalURL(t *testing.T) {
	issue := &Issue{ExternalID: "501"}
	tests := []struct {
		base     string
		expected string
	}{
		{"", ""},
		{"https://redmine.example.com", "https://redmine.example.com/issues/501"},
		{"https://redmine.example.com/", "https://redmine.example.com/issues/501"},
		{"https://example.com/redmine", "https://example.com/redmine/issues/501"},
	}
	for _, tt := range tests {
		if got := issue.ExternalURL(tt.base); got != tt.expected {
			t.Errorf("ExternalURL(%q) = %q, expected %q", tt.base, got, tt.expected)
		}
	}
}

func TestIssue_EmbedPayload(t *testing.T) {
	issue := &Issue{ExternalID: "7", ProjectIdentifier: "core", Title: "Crash", Status: "Neu", Description: "Stack trace"}
	payload := issue.EmbedPayload()

	for _, want := range []string{"Issue #7 (core)", "Title: Crash", "Status: Neu", "Description:\nStack trace"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
	if strings.Contains(payload, "Tracker:") {
		t.Error("blank tracker should be omitted")
	}
}

func TestCommitDiff_Labels(t *testing.T) {
	tests := []struct {
		diff  CommitDiff
		label string
		path  string
	}{
		{CommitDiff{NewFile: true, NewPath: "a.go"}, "added", "a.go"},
		{CommitDiff{DeletedFile: true, OldPath: "b.go", NewPath: "b.go"}, "deleted", "b.go"},
		{CommitDiff{RenamedFile: true, OldPath: "old.go", NewPath: "new.go"}, "renamed", "old.go -> new.go"},
		{CommitDiff{OldPath: "c.go", NewPath: "c.go"}, "modified", "c.go"},
	}
	for _, tt := range tests {
		if got := tt.diff.ChangeLabel(); got != tt.label {
			t.Errorf("ChangeLabel() = %q, expected %q", got, tt.label)
		}
		if got := tt.diff.DisplayPath(); got != tt.path {
			t.Errorf("DisplayPath() = %q, expected %q", got, tt.path)
		}
	}
}

func TestCommit_EmbedPayloadLimitsDiffs(t *testing.T) {
	long := strings.Repeat("+line\n", 100)
	diffs := make([]CommitDiff, 7)
	for i := range diffs {
		diffs[i] = CommitDiff{NewPath: fmt.Sprintf("f%d.go", i), Diff: long}
	}
	c := &Commit{SHA: "abc", ProjectPath: "g/p", Title: "Fix"}
	payload := c.EmbedPayload(diffs)

	if strings.Contains(payload, "f5.go") {
		t.Error("only five diffs should be embedded")
	}
	if !strings.Contains(payload, "modified f4.go") {
		t.Error("fifth diff missing")
	}
	if n := strings.Count(payload, "+line"); n != 5*40 {
		t.Errorf("embedded %d diff lines, expected %d", n, 5*40)
	}
}

func TestSystemLog_Extra(t *testing.T) {
	entry := NewSystemLog(LogLevelInfo, "sync", "labels", "done", map[string]interface{}{"created": 2})
	var extra struct {
		Created int `json:"created"`
	}
	if err := entry.DecodeExtra(&extra); err != nil {
		t.Fatalf("DecodeExtra() error = %v", err)
	}
	if extra.Created != 2 {
		t.Errorf("created = %d", extra.Created)
	}

	bare := NewSystemLog(LogLevelError, "sync", "wiki", "failed", nil)
	if len(bare.Extra) != 0 {
		t.Errorf("extra = %s, expected empty", bare.Extra)
	}
	if err := bare.DecodeExtra(&extra); err != nil {
		t.Errorf("DecodeExtra() on empty = %v", err)
	}
}
