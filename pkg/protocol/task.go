package protocol

import "time"

// ReportStatus is the weekly-report lifecycle bucket of a task.
type ReportStatus string

const (
	StatusInProgress ReportStatus = "in_progress"
	StatusShipped    ReportStatus = "shipped"
	StatusNextWeek   ReportStatus = "next_week"
	StatusArchived   ReportStatus = "archived"
)

// ReportStatuses lists the four legal statuses in menu order. The position of
// a status in this slice is the numeric shorthand accepted by /status and by
// callback payloads.
var ReportStatuses = []ReportStatus{
	StatusInProgress,
	StatusShipped,
	StatusNextWeek,
	StatusArchived,
}

var statusLabels = map[ReportStatus]string{
	StatusInProgress: "正在進行",
	StatusShipped:    "已上線",
	StatusNextWeek:   "下週繼續",
	StatusArchived:   "封存",
}

// Label returns the user-facing display label for the status.
func (s ReportStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the four legal statuses.
func (s ReportStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// StatusByIndex resolves the numeric shorthand (0-3) to a status.
func StatusByIndex(i int) (ReportStatus, bool) {
	if i < 0 || i >= len(ReportStatuses) {
		return "", false
	}
	return ReportStatuses[i], true
}

// StatusIndex returns the numeric shorthand for a status, or -1.
func StatusIndex(s ReportStatus) int {
	for i, v := range ReportStatuses {
		if v == s {
			return i
		}
	}
	return -1
}

// Task is a unit of trackable work referenced from the issue tracker.
type Task struct {
	TicketID         string       `json:"ticket_id"` // PREFIX-NUMBER, immutable
	Title            string       `json:"title,omitempty"`
	AssigneeUsername string       `json:"assignee_username"`
	AssigneeUserID   int64        `json:"assignee_user_id,omitempty"` // 0 = unresolved
	ReportStatus     ReportStatus `json:"report_status"`
	Progress         int          `json:"progress"` // 0-100
	SourceURL        string       `json:"source_url,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// StatusHistoryEntry is an append-only audit row recorded on every status
// mutation, including creation (where OldStatus is empty).
type StatusHistoryEntry struct {
	TicketID      string       `json:"ticket_id"`
	OldStatus     ReportStatus `json:"old_status,omitempty"`
	NewStatus     ReportStatus `json:"new_status"`
	ActorUserID   int64        `json:"actor_user_id,omitempty"`
	ActorUsername string       `json:"actor_username,omitempty"`
	ChangedAt     time.Time    `json:"changed_at"`
}
