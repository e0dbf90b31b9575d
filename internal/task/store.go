package task

import (
	"errors"
	"time"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Sentinel errors surfaced by Store implementations.
var (
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task already exists")
)

// Store is the persistence boundary for tasks and their status history.
type Store interface {
	// Insert creates a task. Ticket IDs are unique; a duplicate fails with
	// ErrAlreadyExists and performs no mutation.
	Insert(t *protocol.Task) error
	// Get retrieves a task by ticket ID.
	Get(ticketID string) (*protocol.Task, error)
	// UpdateStatus changes a task's report status.
	UpdateStatus(ticketID string, status protocol.ReportStatus) error
	// UpdateProgress changes a task's progress percentage.
	UpdateProgress(ticketID string, progress int) error
	// List returns tasks matching the filter, most recently updated first.
	List(filter Filter) ([]*protocol.Task, error)
	// ListShippedBetween returns shipped tasks last updated in [from, to].
	ListShippedBetween(from, to time.Time) ([]*protocol.Task, error)
	// AppendHistory records a status-change audit row.
	AppendHistory(e protocol.StatusHistoryEntry) error
	// History returns a task's audit rows in the order they were appended.
	History(ticketID string) ([]protocol.StatusHistoryEntry, error)
}

// Filter constrains task list queries. Archived tasks are excluded unless
// IncludeArchived is set, even when Status selects them.
type Filter struct {
	Status           *protocol.ReportStatus
	AssigneeUserID   int64
	AssigneeUsername string
	// Assignee matches either the user ID or the username. The assignee ID
	// may be unrecorded, so "my tasks" listings match on either field.
	Assignee        *protocol.Actor
	IncludeArchived bool
	Limit           int // 0 = no limit
}
