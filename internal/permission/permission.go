// Package permission decides whether an actor may mutate a task.
package permission

import (
	"context"
	"log/slog"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// AdminChecker is the transport surface the evaluator needs.
type AdminChecker interface {
	MemberIsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Decision is the result of a permission check.
type Decision struct {
	IsAssignee bool
	IsAdmin    bool
	Allowed    bool
}

// Evaluator answers permission queries against a task snapshot and the chat
// platform. It has no side effects and is safe to call repeatedly.
type Evaluator struct {
	transport AdminChecker
	logger    *slog.Logger
}

// New creates an evaluator.
func New(transport AdminChecker, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{transport: transport, logger: logger}
}

// Check reports whether actor may mutate t in the given conversation.
// The actor qualifies as assignee by user ID (when recorded) or by username.
// Admin status only applies in multi-party conversations; a failed role
// lookup counts as not-admin rather than an error.
func (e *Evaluator) Check(ctx context.Context, actor protocol.Actor, t *protocol.Task, conv protocol.Conversation) Decision {
	var d Decision

	d.IsAssignee = (t.AssigneeUserID != 0 && t.AssigneeUserID == actor.UserID) ||
		(t.AssigneeUsername != "" && t.AssigneeUsername == actor.Username)

	if conv.IsGroup() {
		isAdmin, err := e.transport.MemberIsAdmin(ctx, conv.ID, actor.UserID)
		if err != nil {
			e.logger.Debug("admin lookup failed, treating as non-admin",
				"chat_id", conv.ID, "user_id", actor.UserID, "error", err)
		} else {
			d.IsAdmin = isAdmin
		}
	}

	d.Allowed = d.IsAssignee || d.IsAdmin
	return d
}
