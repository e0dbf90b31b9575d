// Package lifecycle is the single authority for creating tasks and mutating
// their status and progress. Every status mutation appends an audit row.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/internal/jira"
	"github.com/missionbot-io/missionbot/internal/permission"
	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Sentinel errors for lifecycle operations. ErrNotFound and ErrAlreadyExists
// pass through from the store.
var (
	ErrOutOfRange    = errors.New("progress out of range")
	ErrWrongState    = errors.New("action invalid for current status")
	ErrForbidden     = errors.New("actor not permitted")
	ErrInvalidStatus = errors.New("invalid report status")
)

// Engine mutates tasks. All collaborators are injected; the title directory
// may be nil (title fetch disabled).
type Engine struct {
	store     task.Store
	transport connector.Transport
	directory jira.Directory
	perms     *permission.Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a lifecycle engine.
func New(store task.Store, transport connector.Transport, directory jira.Directory, perms *permission.Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		transport: transport,
		directory: directory,
		perms:     perms,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRequest carries everything needed to create a task.
type CreateRequest struct {
	TicketID         string
	Title            string // empty = fetch from the tracker, best-effort
	AssigneeUsername string
	AssigneeUserID   int64 // 0 = resolve from the conversation, best-effort
	SourceURL        string
	Actor            protocol.Actor        // who requested the creation
	Conversation     protocol.Conversation // where the request happened
}

// Create inserts a new task in the initial in-progress state, records the
// creation history row and notifies the assignee with an Accept/Reject
// control. Title fetch and assignee-ID resolution are best-effort and never
// block creation.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*protocol.Task, error) {
	if _, err := e.store.Get(req.TicketID); err == nil {
		return nil, fmt.Errorf("task %q: %w", req.TicketID, task.ErrAlreadyExists)
	} else if !errors.Is(err, task.ErrNotFound) {
		return nil, err
	}

	title := req.Title
	if title == "" && e.directory != nil {
		fetched, err := e.directory.FetchTitle(ctx, req.SourceURL)
		if err != nil {
			e.logger.Warn("title fetch failed", "ticket", req.TicketID, "error", err)
		} else {
			title = fetched
		}
	}

	assigneeID := req.AssigneeUserID
	if assigneeID == 0 && req.Conversation.IsGroup() {
		member, err := e.transport.ResolveMember(ctx, req.Conversation.ID, req.AssigneeUsername)
		if err != nil {
			e.logger.Debug("assignee not resolvable in conversation",
				"ticket", req.TicketID, "username", req.AssigneeUsername, "error", err)
		} else {
			assigneeID = member.UserID
		}
	}

	now := e.now()
	t := &protocol.Task{
		TicketID:         req.TicketID,
		Title:            title,
		AssigneeUsername: req.AssigneeUsername,
		AssigneeUserID:   assigneeID,
		ReportStatus:     protocol.StatusInProgress,
		SourceURL:        req.SourceURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Insert(t); err != nil {
		return nil, err
	}

	if err := e.store.AppendHistory(protocol.StatusHistoryEntry{
		TicketID:      t.TicketID,
		NewStatus:     protocol.StatusInProgress,
		ActorUserID:   req.Actor.UserID,
		ActorUsername: req.Actor.Username,
		ChangedAt:     now,
	}); err != nil {
		e.logger.Error("failed to record creation history", "ticket", t.TicketID, "error", err)
	}

	e.notifyAssignee(ctx, t, req.Conversation)
	return t, nil
}

// notifyAssignee sends the Accept/Reject control: a direct message when the
// assignee's user ID is known, otherwise a message in the conversation.
func (e *Engine) notifyAssignee(ctx context.Context, t *protocol.Task, conv protocol.Conversation) {
	text := fmt.Sprintf("📋 新任務分配\n\n工作單號: %s\n", t.TicketID)
	if t.Title != "" {
		text += fmt.Sprintf("標題: %s\n", t.Title)
	}
	text += fmt.Sprintf("連結: %s\n\n請確認是否受理此任務？", t.SourceURL)

	opts := &connector.SendOptions{
		DisablePreview: true,
		Keyboard: connector.Keyboard{
			connector.Row(
				connector.Button{Text: "✅ 受理", Action: protocol.AcceptAction{TicketID: t.TicketID}},
				connector.Button{Text: "❌ 拒絕", Action: protocol.RejectAction{TicketID: t.TicketID}},
			),
		},
	}

	if t.AssigneeUserID != 0 {
		if _, err := e.transport.Send(ctx, t.AssigneeUserID, text, opts); err != nil {
			e.logger.Warn("direct notification failed, falling back to conversation",
				"ticket", t.TicketID, "assignee", t.AssigneeUsername, "error", err)
			if _, err := e.transport.Send(ctx, conv.ID, text, opts); err != nil {
				e.logger.Error("assignee notification failed", "ticket", t.TicketID, "error", err)
			}
			return
		}
		confirm := fmt.Sprintf("✅ 任務 %s 已分配給 @%s，等待確認中...", t.TicketID, t.AssigneeUsername)
		if _, err := e.transport.Send(ctx, conv.ID, confirm, nil); err != nil {
			e.logger.Warn("assignment confirmation failed", "ticket", t.TicketID, "error", err)
		}
		return
	}

	if _, err := e.transport.Send(ctx, conv.ID, text, opts); err != nil {
		e.logger.Error("assignee notification failed", "ticket", t.TicketID, "error", err)
	}
}

// SetReportStatus moves a task to a new status and records history. The actor
// must be the assignee or a conversation admin.
func (e *Engine) SetReportStatus(ctx context.Context, ticketID string, status protocol.ReportStatus, actor protocol.Actor, conv protocol.Conversation) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	t, err := e.store.Get(ticketID)
	if err != nil {
		return err
	}
	if d := e.perms.Check(ctx, actor, t, conv); !d.Allowed {
		return fmt.Errorf("task %q: %w", ticketID, ErrForbidden)
	}

	if err := e.store.UpdateStatus(ticketID, status); err != nil {
		return err
	}
	if err := e.store.AppendHistory(protocol.StatusHistoryEntry{
		TicketID:      ticketID,
		OldStatus:     t.ReportStatus,
		NewStatus:     status,
		ActorUserID:   actor.UserID,
		ActorUsername: actor.Username,
		ChangedAt:     e.now(),
	}); err != nil {
		e.logger.Error("failed to record status history", "ticket", ticketID, "error", err)
	}
	return nil
}

// SetProgress updates a task's progress percentage. Progress changes are not
// status changes and record no history.
func (e *Engine) SetProgress(ctx context.Context, ticketID string, percent int, actor protocol.Actor, conv protocol.Conversation) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, percent)
	}

	t, err := e.store.Get(ticketID)
	if err != nil {
		return err
	}
	if d := e.perms.Check(ctx, actor, t, conv); !d.Allowed {
		return fmt.Errorf("task %q: %w", ticketID, ErrForbidden)
	}

	return e.store.UpdateProgress(ticketID, percent)
}

// Accept confirms an assigned task. The task must still be in progress; the
// confirmation changes no state, it is the user-visible acceptance gate.
func (e *Engine) Accept(ctx context.Context, ticketID string, actor protocol.Actor, conv protocol.Conversation) (*protocol.Task, error) {
	t, err := e.store.Get(ticketID)
	if err != nil {
		return nil, err
	}
	if t.ReportStatus != protocol.StatusInProgress {
		return nil, fmt.Errorf("task %q is %s: %w", ticketID, t.ReportStatus, ErrWrongState)
	}
	if d := e.perms.Check(ctx, actor, t, conv); !d.Allowed {
		return nil, fmt.Errorf("task %q: %w", ticketID, ErrForbidden)
	}
	return t, nil
}

// Reject declines an assigned task and archives it. Archived tasks never
// appear in listings or reports again.
func (e *Engine) Reject(ctx context.Context, ticketID string, actor protocol.Actor, conv protocol.Conversation) (*protocol.Task, error) {
	t, err := e.store.Get(ticketID)
	if err != nil {
		return nil, err
	}
	if d := e.perms.Check(ctx, actor, t, conv); !d.Allowed {
		return nil, fmt.Errorf("task %q: %w", ticketID, ErrForbidden)
	}

	if err := e.store.UpdateStatus(ticketID, protocol.StatusArchived); err != nil {
		return nil, err
	}
	if err := e.store.AppendHistory(protocol.StatusHistoryEntry{
		TicketID:      ticketID,
		OldStatus:     t.ReportStatus,
		NewStatus:     protocol.StatusArchived,
		ActorUserID:   actor.UserID,
		ActorUsername: actor.Username,
		ChangedAt:     e.now(),
	}); err != nil {
		e.logger.Error("failed to record rejection history", "ticket", ticketID, "error", err)
	}
	t.ReportStatus = protocol.StatusArchived
	return t, nil
}
