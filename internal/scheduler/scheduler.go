// Package scheduler posts the weekly report on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// PostFunc is called when a scheduled report fires.
type PostFunc func(chatID int64)

// Scheduler manages cron-based report posting to target chats.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[int64][]cron.EntryID // chat ID → entry IDs
	postFn PostFunc
	logger *slog.Logger
}

// New creates a new scheduler.
func New(postFn PostFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[int64][]cron.EntryID),
		postFn: postFn,
		logger: logger,
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddReport schedules a recurring report post to a chat.
// The schedule is a standard cron expression (5 fields) or a predefined
// schedule like @weekly.
func (s *Scheduler) AddReport(chatID int64, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info("scheduled report fired", "chat", chatID)
		s.postFn(chatID)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[chatID] = append(s.jobs[chatID], id)
	s.logger.Info("report scheduled", "chat", chatID, "schedule", schedule)
	return nil
}

// RemoveChat removes all scheduled reports for a chat.
func (s *Scheduler) RemoveChat(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.jobs[chatID] {
		s.cron.Remove(id)
	}
	delete(s.jobs, chatID)
}

// JobCount returns the total number of scheduled reports.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}
