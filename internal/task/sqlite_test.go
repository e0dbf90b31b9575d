package task

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func newTask(id string) *protocol.Task {
	now := time.Now().Truncate(time.Second)
	return &protocol.Task{
		TicketID:         id,
		Title:            "Fix the login bug",
		AssigneeUsername: "john",
		AssigneeUserID:   42,
		ReportStatus:     protocol.StatusInProgress,
		SourceURL:        "https://jira.example.com/browse/" + id,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert(newTask("PROJ-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get("PROJ-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Fix the login bug" {
		t.Errorf("expected title 'Fix the login bug', got %q", got.Title)
	}
	if got.AssigneeUserID != 42 {
		t.Errorf("expected assignee user id 42, got %d", got.AssigneeUserID)
	}
	if got.ReportStatus != protocol.StatusInProgress {
		t.Errorf("expected status in_progress, got %q", got.ReportStatus)
	}
	if got.Progress != 0 {
		t.Errorf("expected progress 0, got %d", got.Progress)
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)

	if err := s.Insert(newTask("PROJ-1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := newTask("PROJ-1")
	dup.Title = "Something else"
	err := s.Insert(dup)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// The original row is untouched.
	got, _ := s.Get("PROJ-1")
	if got.Title != "Fix the login bug" {
		t.Errorf("duplicate insert mutated the row: %q", got.Title)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("PROJ-404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	s.Insert(newTask("PROJ-1"))

	if err := s.UpdateStatus("PROJ-1", protocol.StatusShipped); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := s.Get("PROJ-1")
	if got.ReportStatus != protocol.StatusShipped {
		t.Errorf("expected shipped, got %q", got.ReportStatus)
	}

	if err := s.UpdateStatus("PROJ-404", protocol.StatusShipped); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateProgress(t *testing.T) {
	s := newTestStore(t)
	s.Insert(newTask("PROJ-1"))

	if err := s.UpdateProgress("PROJ-1", 80); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	got, _ := s.Get("PROJ-1")
	if got.Progress != 80 {
		t.Errorf("expected progress 80, got %d", got.Progress)
	}

	if err := s.UpdateProgress("PROJ-404", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	s.Insert(newTask("PROJ-1"))
	s.Insert(newTask("PROJ-2"))
	s.UpdateStatus("PROJ-2", protocol.StatusArchived)

	tasks, err := s.List(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TicketID != "PROJ-1" {
		t.Errorf("expected [PROJ-1], got %v", ticketIDs(tasks))
	}

	// Archived is invisible even when selected by status, unless asked for.
	archived := protocol.StatusArchived
	tasks, _ = s.List(Filter{Status: &archived})
	if len(tasks) != 0 {
		t.Errorf("expected no archived tasks without IncludeArchived, got %v", ticketIDs(tasks))
	}
	tasks, _ = s.List(Filter{Status: &archived, IncludeArchived: true})
	if len(tasks) != 1 || tasks[0].TicketID != "PROJ-2" {
		t.Errorf("expected [PROJ-2], got %v", ticketIDs(tasks))
	}
}

func TestListByAssignee(t *testing.T) {
	s := newTestStore(t)
	a := newTask("PROJ-1")
	b := newTask("PROJ-2")
	b.AssigneeUsername = "jane"
	b.AssigneeUserID = 7
	s.Insert(a)
	s.Insert(b)

	tasks, _ := s.List(Filter{AssigneeUserID: 7})
	if len(tasks) != 1 || tasks[0].TicketID != "PROJ-2" {
		t.Errorf("by user id: expected [PROJ-2], got %v", ticketIDs(tasks))
	}

	tasks, _ = s.List(Filter{AssigneeUsername: "john"})
	if len(tasks) != 1 || tasks[0].TicketID != "PROJ-1" {
		t.Errorf("by username: expected [PROJ-1], got %v", ticketIDs(tasks))
	}
}

func TestListByAssigneeActor(t *testing.T) {
	s := newTestStore(t)
	a := newTask("PROJ-1") // matched by user id
	b := newTask("PROJ-2") // unresolved id, matched by username only
	b.AssigneeUserID = 0
	c := newTask("PROJ-3")
	c.AssigneeUsername = "jane"
	c.AssigneeUserID = 7
	s.Insert(a)
	s.Insert(b)
	s.Insert(c)

	tasks, _ := s.List(Filter{Assignee: &protocol.Actor{UserID: 42, Username: "john"}})
	if len(tasks) != 2 {
		t.Errorf("expected [PROJ-1 PROJ-2], got %v", ticketIDs(tasks))
	}
}

func TestListShippedBetween(t *testing.T) {
	s := newTestStore(t)
	weekStart := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, 6, 22, 23, 59, 59, 0, time.UTC)

	inWeek := newTask("PROJ-1")
	inWeek.ReportStatus = protocol.StatusShipped
	inWeek.UpdatedAt = weekStart.Add(48 * time.Hour)
	lastWeek := newTask("PROJ-2")
	lastWeek.ReportStatus = protocol.StatusShipped
	lastWeek.UpdatedAt = weekStart.Add(-time.Hour)
	notShipped := newTask("PROJ-3")
	notShipped.UpdatedAt = weekStart.Add(48 * time.Hour)
	s.Insert(inWeek)
	s.Insert(lastWeek)
	s.Insert(notShipped)

	tasks, err := s.ListShippedBetween(weekStart, weekEnd)
	if err != nil {
		t.Fatalf("list shipped: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TicketID != "PROJ-1" {
		t.Errorf("expected [PROJ-1], got %v", ticketIDs(tasks))
	}
}

func TestHistoryOrdering(t *testing.T) {
	s := newTestStore(t)
	s.Insert(newTask("PROJ-1"))

	statuses := []protocol.ReportStatus{
		protocol.StatusInProgress,
		protocol.StatusShipped,
		protocol.StatusNextWeek,
		protocol.StatusInProgress,
	}
	old := protocol.ReportStatus("")
	for _, st := range statuses {
		err := s.AppendHistory(protocol.StatusHistoryEntry{
			TicketID:      "PROJ-1",
			OldStatus:     old,
			NewStatus:     st,
			ActorUsername: "john",
			ChangedAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("append history: %v", err)
		}
		old = st
	}

	entries, err := s.History("PROJ-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != len(statuses) {
		t.Fatalf("expected %d entries, got %d", len(statuses), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].OldStatus != entries[i-1].NewStatus {
			t.Errorf("entry %d: old status %q does not chain from %q",
				i, entries[i].OldStatus, entries[i-1].NewStatus)
		}
	}
	if entries[0].OldStatus != "" {
		t.Errorf("creation entry should have empty old status, got %q", entries[0].OldStatus)
	}
}

func ticketIDs(tasks []*protocol.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.TicketID
	}
	return ids
}
