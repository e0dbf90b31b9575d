package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// CallbackAction is the decoded form of an inline-keyboard callback payload.
// Payloads travel as colon-delimited strings (e.g. "update_status:PROJ-1:2")
// but are decoded into this closed variant set at the transport boundary so
// routing switches stay exhaustive.
type CallbackAction interface {
	isCallbackAction()
}

// AcceptAction confirms an assigned task (Accept/Reject control).
type AcceptAction struct{ TicketID string }

// RejectAction rejects an assigned task, archiving it.
type RejectAction struct{ TicketID string }

// HelpAction shows the command help text.
type HelpAction struct{}

// AssignUserAction picks the assignee in the explicit-assignment wizard.
type AssignUserAction struct {
	UserID   int64
	Username string
}

// AssignCancelAction cancels the explicit-assignment wizard.
type AssignCancelAction struct{}

// LinkSelfAssignAction takes the detected ticket for the actor themselves.
type LinkSelfAssignAction struct{}

// LinkAssignOtherAction opens the candidate list in the link-detection wizard.
type LinkAssignOtherAction struct{}

// LinkAssignToAction picks the assignee in the link-detection wizard.
type LinkAssignToAction struct {
	UserID   int64
	Username string
}

// LinkDismissAction dismisses a detected ticket link without creating a task.
type LinkDismissAction struct{}

// TaskDetailAction shows the detail view for one task.
type TaskDetailAction struct{ TicketID string }

// TaskBackAction returns from a detail view to the task list.
type TaskBackAction struct{}

// MyTasksPageAction jumps to a page of the actor's task list.
type MyTasksPageAction struct{ Page int }

// RefreshMyTasksAction re-renders the actor's task list.
type RefreshMyTasksAction struct{}

// ShowStatusMenuAction opens the status picker for a task.
type ShowStatusMenuAction struct{ TicketID string }

// ShowProgressMenuAction opens the progress picker for a task.
type ShowProgressMenuAction struct{ TicketID string }

// UpdateStatusAction applies a status picked from the menu.
type UpdateStatusAction struct {
	TicketID    string
	StatusIndex int
}

// UpdateProgressAction applies a progress value picked from the menu.
type UpdateProgressAction struct {
	TicketID string
	Progress int
}

// StatusQuickAction is a shortcut button from the /status usage reply.
type StatusQuickAction struct{ StatusIndex int }

// StatusCancelAction dismisses the /status usage reply.
type StatusCancelAction struct{}

func (AcceptAction) isCallbackAction()          {}
func (RejectAction) isCallbackAction()          {}
func (HelpAction) isCallbackAction()            {}
func (AssignUserAction) isCallbackAction()      {}
func (AssignCancelAction) isCallbackAction()    {}
func (LinkSelfAssignAction) isCallbackAction()  {}
func (LinkAssignOtherAction) isCallbackAction() {}
func (LinkAssignToAction) isCallbackAction()    {}
func (LinkDismissAction) isCallbackAction()     {}
func (TaskDetailAction) isCallbackAction()      {}
func (TaskBackAction) isCallbackAction()        {}
func (MyTasksPageAction) isCallbackAction()     {}
func (RefreshMyTasksAction) isCallbackAction()  {}
func (ShowStatusMenuAction) isCallbackAction()  {}
func (ShowProgressMenuAction) isCallbackAction() {}
func (UpdateStatusAction) isCallbackAction()    {}
func (UpdateProgressAction) isCallbackAction()  {}
func (StatusQuickAction) isCallbackAction()     {}
func (StatusCancelAction) isCallbackAction()    {}

// EncodeCallback renders an action as its wire payload.
func EncodeCallback(a CallbackAction) string {
	switch v := a.(type) {
	case AcceptAction:
		return "accept:" + v.TicketID
	case RejectAction:
		return "reject:" + v.TicketID
	case HelpAction:
		return "help"
	case AssignUserAction:
		return fmt.Sprintf("assign_user:%d:%s", v.UserID, v.Username)
	case AssignCancelAction:
		return "assign_cancel"
	case LinkSelfAssignAction:
		return "link_self"
	case LinkAssignOtherAction:
		return "link_assign_other"
	case LinkAssignToAction:
		return fmt.Sprintf("link_assign_to:%d:%s", v.UserID, v.Username)
	case LinkDismissAction:
		return "link_dismiss"
	case TaskDetailAction:
		return "task_detail:" + v.TicketID
	case TaskBackAction:
		return "task_back"
	case MyTasksPageAction:
		return "mytasks_page:" + strconv.Itoa(v.Page)
	case RefreshMyTasksAction:
		return "refresh_mytasks"
	case ShowStatusMenuAction:
		return "show_status_menu:" + v.TicketID
	case ShowProgressMenuAction:
		return "show_progress_menu:" + v.TicketID
	case UpdateStatusAction:
		return fmt.Sprintf("update_status:%s:%d", v.TicketID, v.StatusIndex)
	case UpdateProgressAction:
		return fmt.Sprintf("update_progress:%s:%d", v.TicketID, v.Progress)
	case StatusQuickAction:
		return "status_quick:" + strconv.Itoa(v.StatusIndex)
	case StatusCancelAction:
		return "status_cancel"
	}
	return ""
}

// DecodeCallback parses a wire payload into its action variant.
func DecodeCallback(data string) (CallbackAction, error) {
	parts := strings.Split(data, ":")
	action, args := parts[0], parts[1:]

	switch action {
	case "accept":
		if len(args) != 1 {
			return nil, badPayload(data)
		}
		return AcceptAction{TicketID: args[0]}, nil
	case "reject":
		if len(args) != 1 {
			return nil, badPayload(data)
		}
		return RejectAction{TicketID: args[0]}, nil
	case "help":
		return HelpAction{}, nil
	case "assign_user":
		id, username, err := userArgs(data, args)
		if err != nil {
			return nil, err
		}
		return AssignUserAction{UserID: id, Username: username}, nil
	case "assign_cancel":
		return AssignCancelAction{}, nil
	case "link_self":
		return LinkSelfAssignAction{}, nil
	case "link_assign_other":
		return LinkAssignOtherAction{}, nil
	case "link_assign_to":
		id, username, err := userArgs(data, args)
		if err != nil {
			return nil, err
		}
		return LinkAssignToAction{UserID: id, Username: username}, nil
	case "link_dismiss":
		return LinkDismissAction{}, nil
	case "task_detail":
		if len(args) != 1 {
			return nil, badPayload(data)
		}
		return TaskDetailAction{TicketID: args[0]}, nil
	case "task_back":
		return TaskBackAction{}, nil
	case "mytasks_page":
		n, err := intArg(data, args)
		if err != nil {
			return nil, err
		}
		return MyTasksPageAction{Page: n}, nil
	case "refresh_mytasks":
		return RefreshMyTasksAction{}, nil
	case "show_status_menu":
		if len(args) != 1 {
			return nil, badPayload(data)
		}
		return ShowStatusMenuAction{TicketID: args[0]}, nil
	case "show_progress_menu":
		if len(args) != 1 {
			return nil, badPayload(data)
		}
		return ShowProgressMenuAction{TicketID: args[0]}, nil
	case "update_status":
		if len(args) != 2 {
			return nil, badPayload(data)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, badPayload(data)
		}
		return UpdateStatusAction{TicketID: args[0], StatusIndex: n}, nil
	case "update_progress":
		if len(args) != 2 {
			return nil, badPayload(data)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, badPayload(data)
		}
		return UpdateProgressAction{TicketID: args[0], Progress: n}, nil
	case "status_quick":
		n, err := intArg(data, args)
		if err != nil {
			return nil, err
		}
		return StatusQuickAction{StatusIndex: n}, nil
	case "status_cancel":
		return StatusCancelAction{}, nil
	}
	return nil, fmt.Errorf("protocol: unknown callback action %q", action)
}

func badPayload(data string) error {
	return fmt.Errorf("protocol: malformed callback payload %q", data)
}

func userArgs(data string, args []string) (int64, string, error) {
	if len(args) != 2 {
		return 0, "", badPayload(data)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, "", badPayload(data)
	}
	return id, args[1], nil
}

func intArg(data string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, badPayload(data)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, badPayload(data)
	}
	return n, nil
}
