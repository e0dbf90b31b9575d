package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/internal/lifecycle"
	"github.com/missionbot-io/missionbot/internal/parse"
	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Engine drives the assignment and link-detection wizards. It owns the
// pending state table; the lifecycle engine only ever sees finalized
// creation requests.
type Engine struct {
	states    *States
	lifecycle *lifecycle.Engine
	transport connector.Transport
	parser    *parse.Parser
	logger    *slog.Logger
}

// New creates a flow engine.
func New(states *States, lc *lifecycle.Engine, transport connector.Transport, parser *parse.Parser, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		states:    states,
		lifecycle: lc,
		transport: transport,
		parser:    parser,
		logger:    logger,
	}
}

// StartAssignmentWizard begins the explicit assignment wizard: it lists the
// selectable candidates in the conversation. Only the admin roster is
// resolvable, so the candidate list is limited to it.
func (e *Engine) StartAssignmentWizard(ctx context.Context, ev protocol.CommandEvent) {
	if !ev.Conversation.IsGroup() {
		e.reply(ctx, ev.Conversation.ID,
			"⚠️ 此功能需要在群組中使用\n\n💡 提示：請在群組中發送 /assign 命令，或直接使用：\n/assign <任務單號> @username [標題]")
		return
	}

	admins, err := e.transport.ConversationAdmins(ctx, ev.Conversation.ID)
	if err != nil || len(admins) == 0 {
		if err != nil {
			e.logger.Warn("candidate lookup failed", "conversation", ev.Conversation.ID, "error", err)
		}
		e.reply(ctx, ev.Conversation.ID,
			"⚠️ 無法取得群組成員列表，請直接使用：\n/assign <任務單號> @username [標題]")
		return
	}

	var kb connector.Keyboard
	for _, m := range admins {
		kb = append(kb, connector.Row(connector.Button{
			Text:   candidateLabel(m),
			Action: protocol.AssignUserAction{UserID: m.UserID, Username: m.Username},
		}))
	}
	kb = append(kb, connector.Row(connector.Button{
		Text:   "❌ 取消",
		Action: protocol.AssignCancelAction{},
	}))

	if _, err := e.transport.Send(ctx, ev.Conversation.ID,
		"📋 分配任務\n\n請選擇要分配任務的用戶：",
		&connector.SendOptions{Keyboard: kb}); err != nil {
		e.logger.Error("assignment wizard prompt failed", "error", err)
	}
}

// SelectAssignee records the chosen assignee and prompts for the ticket line.
func (e *Engine) SelectAssignee(ctx context.Context, ev protocol.CallbackEvent, act protocol.AssignUserAction) {
	e.states.Set(ev.Actor.UserID, ev.Conversation.ID, &AssignmentState{
		AssigneeUserID:   act.UserID,
		AssigneeUsername: act.Username,
	})

	e.answer(ctx, ev, fmt.Sprintf("已選擇 @%s", act.Username), false)
	prompt := fmt.Sprintf("👥 將任務分配給 @%s\n\n請輸入：<任務單號> [標題]\n\n範例: PROJ-1234 修復登入問題", act.Username)
	if err := e.transport.Edit(ctx, ev.Origin, prompt, nil); err != nil {
		e.logger.Warn("assignment prompt edit failed", "error", err)
	}
}

// CancelAssignment aborts the assignment wizard, clearing state before the
// acknowledgement so no in-flight text can still match it.
func (e *Engine) CancelAssignment(ctx context.Context, ev protocol.CallbackEvent) {
	e.states.Clear(ev.Actor.UserID, ev.Conversation.ID)
	e.answer(ctx, ev, "已取消", false)
	if err := e.transport.Delete(ctx, ev.Origin); err != nil {
		e.logger.Debug("wizard prompt delete failed", "error", err)
	}
}

// HandleText consumes inbound free text. Pending wizard state takes
// precedence over fresh link detection: assign-other title first, then
// self-assign title, then the assignment ticket line, then link detection.
// Returns true when the text was consumed.
func (e *Engine) HandleText(ctx context.Context, ev protocol.TextEvent) bool {
	switch st := e.states.Get(ev.Actor.UserID, ev.Conversation.ID).(type) {
	case *LinkState:
		if st.AssignOther != nil {
			return e.finishLinkAssignOther(ctx, ev, st)
		}
		return e.finishLinkSelfAssign(ctx, ev, st)
	case *AssignmentState:
		return e.finishAssignment(ctx, ev, st)
	}
	return e.detectLink(ctx, ev)
}

// finishAssignment parses the "<ticketId> [title]" line. A bad ticket format
// gets an error reply and keeps the state pending.
func (e *Engine) finishAssignment(ctx context.Context, ev protocol.TextEvent, st *AssignmentState) bool {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return false
	}
	if !parse.IsTicketID(fields[0]) {
		e.reply(ctx, ev.Conversation.ID, "❌ 無效的任務單號格式\n\n💡 提示：任務單號格式應為 PROJ-1234")
		return true
	}

	ticketID := fields[0]
	title := strings.Join(fields[1:], " ")

	e.states.Clear(ev.Actor.UserID, ev.Conversation.ID)
	e.create(ctx, lifecycle.CreateRequest{
		TicketID:         ticketID,
		Title:            title,
		AssigneeUsername: st.AssigneeUsername,
		AssigneeUserID:   st.AssigneeUserID,
		SourceURL:        e.parser.BrowseURL(ticketID),
		Actor:            ev.Actor,
		Conversation:     ev.Conversation,
	})
	return true
}

// finishLinkSelfAssign treats the text as the task title and assigns the
// detected ticket to the actor.
func (e *Engine) finishLinkSelfAssign(ctx context.Context, ev protocol.TextEvent, st *LinkState) bool {
	e.states.Clear(ev.Actor.UserID, ev.Conversation.ID)
	e.create(ctx, lifecycle.CreateRequest{
		TicketID:         st.TicketID,
		Title:            strings.TrimSpace(ev.Text),
		AssigneeUsername: ev.Actor.Username,
		AssigneeUserID:   ev.Actor.UserID,
		SourceURL:        st.SourceURL,
		Actor:            ev.Actor,
		Conversation:     ev.Conversation,
	})
	return true
}

// finishLinkAssignOther treats the text as the task title and assigns the
// detected ticket to the previously chosen member.
func (e *Engine) finishLinkAssignOther(ctx context.Context, ev protocol.TextEvent, st *LinkState) bool {
	e.states.Clear(ev.Actor.UserID, ev.Conversation.ID)
	e.create(ctx, lifecycle.CreateRequest{
		TicketID:         st.TicketID,
		Title:            strings.TrimSpace(ev.Text),
		AssigneeUsername: st.AssignOther.AssigneeUsername,
		AssigneeUserID:   st.AssignOther.AssigneeUserID,
		SourceURL:        st.SourceURL,
		Actor:            ev.Actor,
		Conversation:     ev.Conversation,
	})
	return true
}

// detectLink scans free text for a tracker link. Detection only runs in
// multi-party conversations. A link with a resolvable mention creates the
// task directly; without one, the link wizard starts. A new detection while
// a state is pending overwrites it (most recent intent wins).
func (e *Engine) detectLink(ctx context.Context, ev protocol.TextEvent) bool {
	if !ev.Conversation.IsGroup() {
		return false
	}
	link := e.parser.ParseLink(ev.Text)
	if link == nil {
		return false
	}

	if link.AssigneeUsername != "" {
		e.logger.Info("detected task assignment",
			"ticket", link.TicketID, "assignee", link.AssigneeUsername)
		e.create(ctx, lifecycle.CreateRequest{
			TicketID:         link.TicketID,
			Title:            link.Title,
			AssigneeUsername: link.AssigneeUsername,
			SourceURL:        link.URL,
			Actor:            ev.Actor,
			Conversation:     ev.Conversation,
		})
		return true
	}

	if prev, ok := e.states.Get(ev.Actor.UserID, ev.Conversation.ID).(*LinkState); ok && prev.TicketID != link.TicketID {
		e.logger.Warn("pending link state overwritten",
			"previous", prev.TicketID, "new", link.TicketID, "actor", ev.Actor.UserID)
	}
	e.states.Set(ev.Actor.UserID, ev.Conversation.ID, &LinkState{
		TicketID:  link.TicketID,
		SourceURL: link.URL,
	})

	kb := connector.Keyboard{
		connector.Row(connector.Button{Text: "👤 指派給自己", Action: protocol.LinkSelfAssignAction{}}),
		connector.Row(connector.Button{Text: "👥 指派給其他人", Action: protocol.LinkAssignOtherAction{}}),
		connector.Row(connector.Button{Text: "❌ 忽略", Action: protocol.LinkDismissAction{}}),
	}
	text := fmt.Sprintf("⚠️ 檢測到工作單 %s，但未找到負責人。\n\n請選擇處理方式：", link.TicketID)
	if _, err := e.transport.Send(ctx, ev.Conversation.ID, text,
		&connector.SendOptions{Keyboard: kb, DisablePreview: true}); err != nil {
		e.logger.Error("link wizard prompt failed", "ticket", link.TicketID, "error", err)
	}
	return true
}

// SelfAssign handles the "assign to me" choice of the link wizard and
// prompts for an optional title.
func (e *Engine) SelfAssign(ctx context.Context, ev protocol.CallbackEvent) {
	st, ok := e.states.Get(ev.Actor.UserID, ev.Conversation.ID).(*LinkState)
	if !ok {
		e.answerExpired(ctx, ev)
		return
	}

	e.answer(ctx, ev, "指派給自己", false)
	prompt := fmt.Sprintf("👤 工作單 %s 將指派給你\n\n請輸入任務標題（直接發送文字即可）：", st.TicketID)
	if err := e.transport.Edit(ctx, ev.Origin, prompt, nil); err != nil {
		e.logger.Warn("link prompt edit failed", "error", err)
	}
}

// AssignOther handles the "assign to someone else" choice and lists the
// selectable candidates.
func (e *Engine) AssignOther(ctx context.Context, ev protocol.CallbackEvent) {
	st, ok := e.states.Get(ev.Actor.UserID, ev.Conversation.ID).(*LinkState)
	if !ok {
		e.answerExpired(ctx, ev)
		return
	}

	admins, err := e.transport.ConversationAdmins(ctx, ev.Conversation.ID)
	if err != nil || len(admins) == 0 {
		if err != nil {
			e.logger.Warn("candidate lookup failed", "conversation", ev.Conversation.ID, "error", err)
		}
		e.answer(ctx, ev, "無法取得群組成員列表", true)
		return
	}

	var kb connector.Keyboard
	for _, m := range admins {
		kb = append(kb, connector.Row(connector.Button{
			Text:   candidateLabel(m),
			Action: protocol.LinkAssignToAction{UserID: m.UserID, Username: m.Username},
		}))
	}
	kb = append(kb, connector.Row(connector.Button{Text: "❌ 取消", Action: protocol.LinkDismissAction{}}))

	e.answer(ctx, ev, "", false)
	prompt := fmt.Sprintf("👥 工作單 %s\n\n請選擇要指派的用戶：", st.TicketID)
	if err := e.transport.Edit(ctx, ev.Origin, prompt, &connector.SendOptions{Keyboard: kb}); err != nil {
		e.logger.Warn("link prompt edit failed", "error", err)
	}
}

// AssignTo records the chosen assignee inside the link state and prompts for
// the title. The write refreshes the expiry clock.
func (e *Engine) AssignTo(ctx context.Context, ev protocol.CallbackEvent, act protocol.LinkAssignToAction) {
	st, ok := e.states.Get(ev.Actor.UserID, ev.Conversation.ID).(*LinkState)
	if !ok {
		e.answerExpired(ctx, ev)
		return
	}

	e.states.Set(ev.Actor.UserID, ev.Conversation.ID, &LinkState{
		TicketID:  st.TicketID,
		SourceURL: st.SourceURL,
		AssignOther: &AssignOtherState{
			AssigneeUserID:   act.UserID,
			AssigneeUsername: act.Username,
		},
	})

	e.answer(ctx, ev, fmt.Sprintf("已選擇 @%s", act.Username), false)
	prompt := fmt.Sprintf("👥 工作單 %s 將指派給 @%s\n\n請輸入任務標題（直接發送文字即可）：", st.TicketID, act.Username)
	if err := e.transport.Edit(ctx, ev.Origin, prompt, nil); err != nil {
		e.logger.Warn("link prompt edit failed", "error", err)
	}
}

// Dismiss drops a detected link without creating a task.
func (e *Engine) Dismiss(ctx context.Context, ev protocol.CallbackEvent) {
	e.states.Clear(ev.Actor.UserID, ev.Conversation.ID)
	e.answer(ctx, ev, "已忽略", false)
	if err := e.transport.Delete(ctx, ev.Origin); err != nil {
		e.logger.Debug("wizard prompt delete failed", "error", err)
	}
}

// create finalizes a wizard with a lifecycle creation call and reports
// failures back into the conversation.
func (e *Engine) create(ctx context.Context, req lifecycle.CreateRequest) {
	_, err := e.lifecycle.Create(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, task.ErrAlreadyExists):
		e.reply(ctx, req.Conversation.ID, fmt.Sprintf("⚠️ 任務 %s 已存在", req.TicketID))
	default:
		e.logger.Error("task creation failed", "ticket", req.TicketID, "error", err)
		e.reply(ctx, req.Conversation.ID, fmt.Sprintf("❌ 建立任務 %s 失敗，請稍後再試", req.TicketID))
	}
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if _, err := e.transport.Send(ctx, chatID, text, nil); err != nil {
		e.logger.Error("reply failed", "chat", chatID, "error", err)
	}
}

func (e *Engine) answer(ctx context.Context, ev protocol.CallbackEvent, text string, alert bool) {
	if err := e.transport.AnswerCallback(ctx, ev.CallbackID, text, alert); err != nil {
		e.logger.Debug("callback answer failed", "error", err)
	}
}

func (e *Engine) answerExpired(ctx context.Context, ev protocol.CallbackEvent) {
	e.answer(ctx, ev, "操作已過期，請重新發送連結", true)
}

func candidateLabel(m connector.ChatMember) string {
	if m.Username != "" {
		return fmt.Sprintf("👤 @%s", m.Username)
	}
	return fmt.Sprintf("👤 %s", m.DisplayName)
}
