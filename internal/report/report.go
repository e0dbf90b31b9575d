// Package report builds the weekly status report text.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Aggregator reads the store and renders the fixed three-section report.
// It has no side effects; output is deterministic for a given store state
// and clock reading.
type Aggregator struct {
	store task.Store
}

// New creates a report aggregator.
func New(store task.Store) *Aggregator {
	return &Aggregator{store: store}
}

// WeekOf returns the Monday 00:00:00 and Sunday 23:59:59 bounds of the
// calendar week containing now, in now's location.
func WeekOf(now time.Time) (time.Time, time.Time) {
	// time.Weekday numbers Sunday as 0; shift so Monday starts the week.
	offset := int(now.Weekday()) - 1
	if offset < 0 {
		offset = 6
	}
	y, m, d := now.AddDate(0, 0, -offset).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 6).Add(24*time.Hour - time.Second)
	return start, end
}

// Build renders the weekly report for the week containing now. The shipped
// section lists everything currently in that bucket; the next-week section
// is the union of next-week and in-progress tasks, first occurrence wins.
// Archived tasks never appear.
func (a *Aggregator) Build(now time.Time) (string, error) {
	ongoing, err := a.byStatus(protocol.StatusInProgress)
	if err != nil {
		return "", err
	}
	shipped, err := a.byStatus(protocol.StatusShipped)
	if err != nil {
		return "", err
	}
	nextWeek, err := a.byStatus(protocol.StatusNextWeek)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	var upcoming []*protocol.Task
	for _, t := range append(append([]*protocol.Task{}, nextWeek...), ongoing...) {
		if seen[t.TicketID] {
			continue
		}
		seen[t.TicketID] = true
		upcoming = append(upcoming, t)
	}

	start, end := WeekOf(now)

	var b strings.Builder
	b.WriteString("📊 週報\n\n")
	fmt.Fprintf(&b, "日期: %s ~ %s\n\n", start.Format("2006.01.02"), end.Format("2006.01.02"))

	b.WriteString("- 正在進行\n")
	writeSection(&b, ongoing, true)
	b.WriteString("\n- 已上線（本週結單or上線的內容）\n")
	writeSection(&b, shipped, false)
	b.WriteString("\n- 下週處理\n")
	writeSection(&b, upcoming, false)

	return b.String(), nil
}

func (a *Aggregator) byStatus(status protocol.ReportStatus) ([]*protocol.Task, error) {
	return a.store.List(task.Filter{Status: &status})
}

func writeSection(b *strings.Builder, tasks []*protocol.Task, withProgress bool) {
	if len(tasks) == 0 {
		b.WriteString("  (無)\n")
		return
	}
	for i, t := range tasks {
		fmt.Fprintf(b, " %d. %s", i+1, t.TicketID)
		if t.Title != "" {
			fmt.Fprintf(b, " %s", t.Title)
		}
		if withProgress && t.Progress > 0 {
			fmt.Fprintf(b, " - %d%%", t.Progress)
		}
		b.WriteString("\n")
	}
}
