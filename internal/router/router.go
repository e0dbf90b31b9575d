// Package router maps inbound chat events to the lifecycle, flow and report
// engines and renders the replies. Every handler catches its own failures
// and answers with a prefixed error message instead of staying silent.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/internal/flow"
	"github.com/missionbot-io/missionbot/internal/lifecycle"
	"github.com/missionbot-io/missionbot/internal/parse"
	"github.com/missionbot-io/missionbot/internal/report"
	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

const tasksPerPage = 5

// Router implements connector.Handler.
type Router struct {
	lifecycle *lifecycle.Engine
	flows     *flow.Engine
	reports   *report.Aggregator
	store     task.Store
	transport connector.Transport
	parser    *parse.Parser
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a router.
func New(lc *lifecycle.Engine, flows *flow.Engine, reports *report.Aggregator, store task.Store, transport connector.Transport, parser *parse.Parser, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		lifecycle: lc,
		flows:     flows,
		reports:   reports,
		store:     store,
		transport: transport,
		parser:    parser,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Router) HandleCommand(ctx context.Context, ev protocol.CommandEvent) {
	r.logger.Info("command", "name", ev.Name, "actor", ev.Actor.Username, "conversation", ev.Conversation.ID)

	switch ev.Name {
	case "start", "help":
		r.sendHelp(ctx, ev.Conversation.ID)
	case "assign":
		r.cmdAssign(ctx, ev)
	case "status":
		r.cmdStatus(ctx, ev)
	case "progress":
		r.cmdProgress(ctx, ev)
	case "report":
		r.cmdReport(ctx, ev.Conversation.ID)
	case "mytasks":
		r.cmdMyTasks(ctx, ev)
	case "archived":
		r.cmdArchived(ctx, ev)
	default:
		r.logger.Debug("unknown command ignored", "name", ev.Name)
	}
}

func (r *Router) HandleText(ctx context.Context, ev protocol.TextEvent) {
	r.flows.HandleText(ctx, ev)
}

// HandleChannelPost supports /report only; channels never run wizards.
func (r *Router) HandleChannelPost(ctx context.Context, ev protocol.CommandEvent) {
	if ev.Name == "report" {
		r.cmdReport(ctx, ev.Conversation.ID)
	}
}

// cmdAssign accepts both argument orders: the ticket or the mention may come
// first. Too few arguments starts the assignment wizard instead.
func (r *Router) cmdAssign(ctx context.Context, ev protocol.CommandEvent) {
	if len(ev.Args) < 2 {
		r.flows.StartAssignmentWizard(ctx, ev)
		return
	}

	var ticketID, assignee string
	if strings.HasPrefix(ev.Args[0], "@") {
		assignee = parse.Mention(ev.Args[0])
		ticketID = parse.ExtractTicketID(ev.Args[1])
	} else {
		ticketID = parse.ExtractTicketID(ev.Args[0])
		assignee = parse.Mention(ev.Args[1])
	}
	title := strings.Join(ev.Args[2:], " ")

	if ticketID == "" {
		r.reply(ctx, ev.Conversation.ID, "❌ 無效的工作單號格式\n\n💡 提示：工作單號格式應為 PROJ-1234")
		return
	}
	if assignee == "" {
		r.reply(ctx, ev.Conversation.ID, "❌ 無效的用戶名格式\n\n💡 提示：請使用 @username 格式")
		return
	}

	_, err := r.lifecycle.Create(ctx, lifecycle.CreateRequest{
		TicketID:         ticketID,
		Title:            title,
		AssigneeUsername: assignee,
		SourceURL:        r.parser.BrowseURL(ticketID),
		Actor:            ev.Actor,
		Conversation:     ev.Conversation,
	})
	switch {
	case err == nil:
	case errors.Is(err, task.ErrAlreadyExists):
		r.reply(ctx, ev.Conversation.ID, fmt.Sprintf("⚠️ 任務 %s 已存在", ticketID))
	default:
		r.logger.Error("assign failed", "ticket", ticketID, "error", err)
		r.reply(ctx, ev.Conversation.ID, fmt.Sprintf("❌ 建立任務 %s 失敗，請稍後再試", ticketID))
	}
}

func (r *Router) cmdStatus(ctx context.Context, ev protocol.CommandEvent) {
	if len(ev.Args) < 2 {
		var quick []connector.Button
		for i, st := range protocol.ReportStatuses {
			quick = append(quick, connector.Button{
				Text:   fmt.Sprintf("%d: %s", i, st.Label()),
				Action: protocol.StatusQuickAction{StatusIndex: i},
			})
		}
		kb := connector.Keyboard{
			quick,
			connector.Row(connector.Button{Text: "❌ 取消", Action: protocol.StatusCancelAction{}}),
		}
		r.send(ctx, ev.Conversation.ID,
			fmt.Sprintf("用法: /status <任務單號> <狀態>\n\n可用狀態:\n%s", statusList()),
			&connector.SendOptions{Keyboard: kb})
		return
	}

	ticketID := parse.ExtractTicketID(ev.Args[0])
	if ticketID == "" {
		r.reply(ctx, ev.Conversation.ID, "無效的工作單號格式")
		return
	}
	status, ok := parse.Status(strings.Join(ev.Args[1:], " "))
	if !ok {
		r.reply(ctx, ev.Conversation.ID, fmt.Sprintf("無效的狀態。可用狀態:\n%s", statusList()))
		return
	}

	if err := r.lifecycle.SetReportStatus(ctx, ticketID, status, ev.Actor, ev.Conversation); err != nil {
		r.replyMutationError(ctx, ev.Conversation.ID, ticketID, err)
		return
	}

	kb := connector.Keyboard{
		connector.Row(
			connector.Button{Text: "📈 更新進度", SwitchInline: fmt.Sprintf("/progress %s ", ticketID)},
			connector.Button{Text: "📊 查看狀態", SwitchInline: fmt.Sprintf("/status %s ", ticketID)},
		),
		connector.Row(connector.Button{Text: "📋 生成週報", SwitchInline: "/report"}),
	}
	r.send(ctx, ev.Conversation.ID,
		fmt.Sprintf("✅ 任務 %s 狀態已更新為: %s", ticketID, status.Label()),
		&connector.SendOptions{Keyboard: kb})
}

func (r *Router) cmdProgress(ctx context.Context, ev protocol.CommandEvent) {
	if len(ev.Args) < 2 {
		r.reply(ctx, ev.Conversation.ID, "用法: /progress <任務單號> <進度百分比數字>\n\n範例: /progress PROJ-1234 80")
		return
	}

	ticketID := parse.ExtractTicketID(ev.Args[0])
	if ticketID == "" {
		r.reply(ctx, ev.Conversation.ID, "無效的工作單號格式")
		return
	}
	percent, ok := parse.Progress(ev.Args[1])
	if !ok {
		r.reply(ctx, ev.Conversation.ID, "進度必須是 0-100 之間的數字")
		return
	}

	if err := r.lifecycle.SetProgress(ctx, ticketID, percent, ev.Actor, ev.Conversation); err != nil {
		r.replyMutationError(ctx, ev.Conversation.ID, ticketID, err)
		return
	}

	kb := connector.Keyboard{
		connector.Row(
			connector.Button{Text: "📊 更新狀態", SwitchInline: fmt.Sprintf("/status %s ", ticketID)},
			connector.Button{Text: "📈 繼續更新", SwitchInline: fmt.Sprintf("/progress %s ", ticketID)},
		),
		connector.Row(connector.Button{Text: "📋 生成週報", SwitchInline: "/report"}),
	}
	r.send(ctx, ev.Conversation.ID,
		fmt.Sprintf("✅ 任務 %s 進度已更新為: %d%%", ticketID, percent),
		&connector.SendOptions{Keyboard: kb})
}

func (r *Router) cmdReport(ctx context.Context, chatID int64) {
	text, err := r.reports.Build(r.now())
	if err != nil {
		r.logger.Error("report build failed", "error", err)
		r.reply(ctx, chatID, "❌ 生成報告失敗，請稍後再試")
		return
	}
	r.reply(ctx, chatID, text)
}

func (r *Router) cmdMyTasks(ctx context.Context, ev protocol.CommandEvent) {
	text, kb, err := r.renderMyTasks(ev.Actor, 0)
	if err != nil {
		r.logger.Error("mytasks failed", "error", err)
		r.reply(ctx, ev.Conversation.ID, "❌ 查詢失敗，請稍後再試")
		return
	}
	r.send(ctx, ev.Conversation.ID, text, &connector.SendOptions{Keyboard: kb})
}

func (r *Router) cmdArchived(ctx context.Context, ev protocol.CommandEvent) {
	archived := protocol.StatusArchived
	tasks, err := r.store.List(task.Filter{
		Status:          &archived,
		Assignee:        &ev.Actor,
		IncludeArchived: true,
	})
	if err != nil {
		r.logger.Error("archived listing failed", "error", err)
		r.reply(ctx, ev.Conversation.ID, "❌ 查詢失敗，請稍後再試")
		return
	}
	if len(tasks) == 0 {
		r.reply(ctx, ev.Conversation.ID, "🗄 您沒有封存的任務")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗄 封存的任務（%d 個）\n\n", len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(&b, " %d. %s", i+1, t.TicketID)
		if t.Title != "" {
			fmt.Fprintf(&b, " %s", t.Title)
		}
		b.WriteString("\n")
	}
	r.reply(ctx, ev.Conversation.ID, b.String())
}

// HandleCallback dispatches a decoded button press. The variant set is
// closed; anything unrecognized was already rejected at decode time.
func (r *Router) HandleCallback(ctx context.Context, ev protocol.CallbackEvent) {
	switch act := ev.Action.(type) {
	case protocol.AcceptAction:
		r.cbAccept(ctx, ev, act.TicketID)
	case protocol.RejectAction:
		r.cbReject(ctx, ev, act.TicketID)
	case protocol.HelpAction:
		r.answer(ctx, ev, "顯示幫助資訊", false)
		r.sendHelp(ctx, ev.Conversation.ID)
	case protocol.AssignUserAction:
		r.flows.SelectAssignee(ctx, ev, act)
	case protocol.AssignCancelAction:
		r.flows.CancelAssignment(ctx, ev)
	case protocol.LinkSelfAssignAction:
		r.flows.SelfAssign(ctx, ev)
	case protocol.LinkAssignOtherAction:
		r.flows.AssignOther(ctx, ev)
	case protocol.LinkAssignToAction:
		r.flows.AssignTo(ctx, ev, act)
	case protocol.LinkDismissAction:
		r.flows.Dismiss(ctx, ev)
	case protocol.TaskDetailAction:
		r.answer(ctx, ev, "載入任務詳情...", false)
		r.showTaskDetail(ctx, ev, act.TicketID)
	case protocol.TaskBackAction:
		r.answer(ctx, ev, "返回任務列表", false)
		r.editMyTasks(ctx, ev, 0)
	case protocol.MyTasksPageAction:
		r.answer(ctx, ev, fmt.Sprintf("載入第 %d 頁...", act.Page+1), false)
		r.editMyTasks(ctx, ev, act.Page)
	case protocol.RefreshMyTasksAction:
		r.answer(ctx, ev, "正在重新整理...", false)
		r.editMyTasks(ctx, ev, 0)
	case protocol.ShowStatusMenuAction:
		r.showStatusMenu(ctx, ev, act.TicketID)
	case protocol.ShowProgressMenuAction:
		r.showProgressMenu(ctx, ev, act.TicketID)
	case protocol.UpdateStatusAction:
		r.cbUpdateStatus(ctx, ev, act)
	case protocol.UpdateProgressAction:
		r.cbUpdateProgress(ctx, ev, act)
	case protocol.StatusQuickAction:
		r.cbStatusQuick(ctx, ev, act.StatusIndex)
	case protocol.StatusCancelAction:
		r.answer(ctx, ev, "已取消", false)
		if err := r.transport.Delete(ctx, ev.Origin); err != nil {
			r.logger.Debug("prompt delete failed", "error", err)
		}
	}
}

func (r *Router) cbAccept(ctx context.Context, ev protocol.CallbackEvent, ticketID string) {
	_, err := r.lifecycle.Accept(ctx, ticketID, ev.Actor, ev.Conversation)
	switch {
	case err == nil:
		r.answer(ctx, ev, "任務已受理", false)
		r.edit(ctx, ev.Origin, "✅ 任務已受理，狀態: "+protocol.StatusInProgress.Label(), nil)
	case errors.Is(err, task.ErrNotFound):
		r.answer(ctx, ev, "任務不存在", false)
	case errors.Is(err, lifecycle.ErrWrongState):
		r.answer(ctx, ev, "任務狀態已變更", false)
	case errors.Is(err, lifecycle.ErrForbidden):
		r.answer(ctx, ev, "❌ 只有任務負責人或管理員可以接受此任務", true)
	default:
		r.logger.Error("accept failed", "ticket", ticketID, "error", err)
		r.answer(ctx, ev, "處理失敗", false)
	}
}

func (r *Router) cbReject(ctx context.Context, ev protocol.CallbackEvent, ticketID string) {
	_, err := r.lifecycle.Reject(ctx, ticketID, ev.Actor, ev.Conversation)
	switch {
	case err == nil:
		r.answer(ctx, ev, "任務已拒絕", false)
		r.edit(ctx, ev.Origin, "❌ 任務已被拒絕", nil)
	case errors.Is(err, task.ErrNotFound):
		r.answer(ctx, ev, "任務不存在", false)
	case errors.Is(err, lifecycle.ErrForbidden):
		r.answer(ctx, ev, "❌ 只有任務負責人或管理員可以拒絕此任務", true)
	default:
		r.logger.Error("reject failed", "ticket", ticketID, "error", err)
		r.answer(ctx, ev, "處理失敗", false)
	}
}

func (r *Router) cbUpdateStatus(ctx context.Context, ev protocol.CallbackEvent, act protocol.UpdateStatusAction) {
	status, ok := protocol.StatusByIndex(act.StatusIndex)
	if !ok {
		r.answer(ctx, ev, "無效的狀態", false)
		return
	}
	err := r.lifecycle.SetReportStatus(ctx, act.TicketID, status, ev.Actor, ev.Conversation)
	switch {
	case err == nil:
		r.answer(ctx, ev, "✅ 狀態已更新為: "+status.Label(), false)
		r.showTaskDetail(ctx, ev, act.TicketID)
	case errors.Is(err, task.ErrNotFound):
		r.answer(ctx, ev, "任務不存在", false)
	case errors.Is(err, lifecycle.ErrForbidden):
		r.answer(ctx, ev, "❌ 只有任務負責人或管理員可以更新狀態", true)
	default:
		r.logger.Error("status update failed", "ticket", act.TicketID, "error", err)
		r.answer(ctx, ev, "更新失敗", false)
	}
}

func (r *Router) cbUpdateProgress(ctx context.Context, ev protocol.CallbackEvent, act protocol.UpdateProgressAction) {
	err := r.lifecycle.SetProgress(ctx, act.TicketID, act.Progress, ev.Actor, ev.Conversation)
	switch {
	case err == nil:
		r.answer(ctx, ev, fmt.Sprintf("✅ 進度已更新為: %d%%", act.Progress), false)
		r.showTaskDetail(ctx, ev, act.TicketID)
	case errors.Is(err, task.ErrNotFound):
		r.answer(ctx, ev, "任務不存在", false)
	case errors.Is(err, lifecycle.ErrOutOfRange):
		r.answer(ctx, ev, "無效的進度值", false)
	case errors.Is(err, lifecycle.ErrForbidden):
		r.answer(ctx, ev, "❌ 只有任務負責人或管理員可以更新進度", true)
	default:
		r.logger.Error("progress update failed", "ticket", act.TicketID, "error", err)
		r.answer(ctx, ev, "更新失敗", false)
	}
}

func (r *Router) cbStatusQuick(ctx context.Context, ev protocol.CallbackEvent, index int) {
	status, ok := protocol.StatusByIndex(index)
	if !ok {
		r.answer(ctx, ev, "無效的狀態", false)
		return
	}
	r.answer(ctx, ev, "請先輸入任務單號，然後使用此狀態", false)
	r.reply(ctx, ev.Conversation.ID,
		fmt.Sprintf("請使用命令：/status <任務單號> %d 或 /status <任務單號> %s", index, status.Label()))
}

func (r *Router) showTaskDetail(ctx context.Context, ev protocol.CallbackEvent, ticketID string) {
	t, err := r.store.Get(ticketID)
	if err != nil {
		r.edit(ctx, ev.Origin, "❌ 任務不存在", nil)
		return
	}

	var b strings.Builder
	b.WriteString("📋 任務詳情\n\n")
	fmt.Fprintf(&b, "工作單號: %s\n", t.TicketID)
	if t.Title != "" {
		fmt.Fprintf(&b, "標題: %s\n", t.Title)
	}
	fmt.Fprintf(&b, "負責人: @%s\n", t.AssigneeUsername)
	fmt.Fprintf(&b, "狀態: %s\n", t.ReportStatus.Label())
	fmt.Fprintf(&b, "進度: %d%%\n", t.Progress)
	if t.SourceURL != "" {
		fmt.Fprintf(&b, "連結: %s\n", t.SourceURL)
	}
	fmt.Fprintf(&b, "更新時間: %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))

	kb := connector.Keyboard{
		connector.Row(
			connector.Button{Text: "📊 更新狀態", Action: protocol.ShowStatusMenuAction{TicketID: ticketID}},
			connector.Button{Text: "📈 更新進度", Action: protocol.ShowProgressMenuAction{TicketID: ticketID}},
		),
		connector.Row(connector.Button{Text: "⬅️ 返回列表", Action: protocol.TaskBackAction{}}),
	}
	r.edit(ctx, ev.Origin, b.String(), &connector.SendOptions{Keyboard: kb, DisablePreview: true})
}

func (r *Router) showStatusMenu(ctx context.Context, ev protocol.CallbackEvent, ticketID string) {
	r.answer(ctx, ev, "選擇狀態", false)
	if _, err := r.store.Get(ticketID); err != nil {
		r.edit(ctx, ev.Origin, "❌ 任務不存在", nil)
		return
	}

	var kb connector.Keyboard
	var row []connector.Button
	for i, st := range protocol.ReportStatuses {
		row = append(row, connector.Button{
			Text:   fmt.Sprintf("%d: %s", i, st.Label()),
			Action: protocol.UpdateStatusAction{TicketID: ticketID, StatusIndex: i},
		})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, connector.Row(connector.Button{Text: "⬅️ 返回詳情", Action: protocol.TaskDetailAction{TicketID: ticketID}}))

	r.edit(ctx, ev.Origin, fmt.Sprintf("📊 選擇任務 %s 的新狀態：", ticketID), &connector.SendOptions{Keyboard: kb})
}

func (r *Router) showProgressMenu(ctx context.Context, ev protocol.CallbackEvent, ticketID string) {
	r.answer(ctx, ev, "選擇進度", false)
	if _, err := r.store.Get(ticketID); err != nil {
		r.edit(ctx, ev.Origin, "❌ 任務不存在", nil)
		return
	}

	var row []connector.Button
	for _, pct := range []int{10, 25, 50, 75, 100} {
		row = append(row, connector.Button{
			Text:   fmt.Sprintf("%d%%", pct),
			Action: protocol.UpdateProgressAction{TicketID: ticketID, Progress: pct},
		})
	}
	kb := connector.Keyboard{
		row,
		connector.Row(connector.Button{Text: "⬅️ 返回詳情", Action: protocol.TaskDetailAction{TicketID: ticketID}}),
	}
	r.edit(ctx, ev.Origin, fmt.Sprintf("📈 選擇任務 %s 的新進度：", ticketID), &connector.SendOptions{Keyboard: kb})
}

func (r *Router) editMyTasks(ctx context.Context, ev protocol.CallbackEvent, page int) {
	text, kb, err := r.renderMyTasks(ev.Actor, page)
	if err != nil {
		r.logger.Error("mytasks refresh failed", "error", err)
		r.answer(ctx, ev, "重新整理失敗", false)
		return
	}
	r.edit(ctx, ev.Origin, text, &connector.SendOptions{Keyboard: kb})
}

// renderMyTasks builds the paginated personal task list. Pages are clamped
// into range, so stale pagination buttons stay safe after list changes.
func (r *Router) renderMyTasks(actor protocol.Actor, page int) (string, connector.Keyboard, error) {
	tasks, err := r.store.List(task.Filter{Assignee: &actor})
	if err != nil {
		return "", nil, err
	}

	if len(tasks) == 0 {
		kb := connector.Keyboard{
			connector.Row(
				connector.Button{Text: "📋 分配任務", SwitchInline: "/assign "},
				connector.Button{Text: "❓ 查看幫助", Action: protocol.HelpAction{}},
			),
		}
		return "📋 您目前沒有任何負責的任務\n\n💡 提示：使用 /assign 命令分配任務，或在群組中發送包含 Jira 連結的訊息", kb, nil
	}

	totalPages := (len(tasks) + tasksPerPage - 1) / tasksPerPage
	if page < 0 {
		page = 0
	}
	if page > totalPages-1 {
		page = totalPages - 1
	}
	start := page * tasksPerPage
	end := start + tasksPerPage
	if end > len(tasks) {
		end = len(tasks)
	}

	counts := make(map[protocol.ReportStatus]int)
	for _, t := range tasks {
		counts[t.ReportStatus]++
	}
	var stats []string
	for _, st := range protocol.ReportStatuses {
		if st != protocol.StatusArchived && counts[st] > 0 {
			stats = append(stats, fmt.Sprintf("%s: %d", st.Label(), counts[st]))
		}
	}

	var b strings.Builder
	b.WriteString("📋 您負責的任務列表\n\n")
	fmt.Fprintf(&b, "總共 %d 個任務（不包含封存）\n", len(tasks))
	if len(stats) > 0 {
		fmt.Fprintf(&b, "狀態統計: %s\n", strings.Join(stats, ", "))
	}
	fmt.Fprintf(&b, "\n頁面 %d/%d\n", page+1, totalPages)
	b.WriteString("點擊下方按鈕查看任務詳情\n")

	var kb connector.Keyboard
	for _, t := range tasks[start:end] {
		kb = append(kb, connector.Row(connector.Button{
			Text:   taskButtonLabel(t),
			Action: protocol.TaskDetailAction{TicketID: t.TicketID},
		}))
	}

	if totalPages > 1 {
		var nav []connector.Button
		if page > 0 {
			nav = append(nav, connector.Button{Text: "⬅️ 上一頁", Action: protocol.MyTasksPageAction{Page: page - 1}})
		}
		if page < totalPages-1 {
			nav = append(nav, connector.Button{Text: "下一頁 ➡️", Action: protocol.MyTasksPageAction{Page: page + 1}})
		}
		kb = append(kb, nav)
	}
	kb = append(kb, connector.Row(
		connector.Button{Text: "🔄 重新整理", Action: protocol.RefreshMyTasksAction{}},
		connector.Button{Text: "📑 生成週報", SwitchInline: "/report"},
	))

	return b.String(), kb, nil
}

// taskButtonLabel keeps button text inside the platform's 64-byte limit.
func taskButtonLabel(t *protocol.Task) string {
	label := t.TicketID
	if t.Title != "" {
		title := []rune(t.Title)
		if len(title) > 20 {
			title = title[:20]
		}
		label += " - " + string(title)
	}
	if t.Progress > 0 {
		label += fmt.Sprintf(" [%d%%]", t.Progress)
	}
	if runes := []rune(label); len(runes) > 32 {
		label = string(runes[:29]) + "..."
	}
	return label
}

func (r *Router) replyMutationError(ctx context.Context, chatID int64, ticketID string, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		r.reply(ctx, chatID, fmt.Sprintf("❌ 更新失敗: 任務 %s 不存在", ticketID))
	case errors.Is(err, lifecycle.ErrForbidden):
		r.reply(ctx, chatID, "❌ 只有任務負責人或管理員可以更新此任務")
	case errors.Is(err, lifecycle.ErrOutOfRange):
		r.reply(ctx, chatID, "進度必須是 0-100 之間的數字")
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		r.reply(ctx, chatID, fmt.Sprintf("無效的狀態。可用狀態:\n%s", statusList()))
	default:
		r.logger.Error("mutation failed", "ticket", ticketID, "error", err)
		r.reply(ctx, chatID, "❌ 更新失敗，請稍後再試")
	}
}

func (r *Router) sendHelp(ctx context.Context, chatID int64) {
	var b strings.Builder
	b.WriteString("📋 可用命令列表：\n")
	b.WriteString("/assign <任務單號> @username [標題]\n  分配任務給指定用戶\n  範例: /assign PROJ-1234 @john 修復登入問題\n")
	fmt.Fprintf(&b, "/status <任務單號> <狀態>\n  更新任務狀態\n  可用狀態:\n%s\n  範例: /status PROJ-1234 1 或 /status PROJ-1234 下週繼續\n", indent(statusList()))
	b.WriteString("/progress <任務單號> <進度百分比數字>\n  更新任務進度 (0-100 之間的數字)\n  範例: /progress PROJ-1234 80\n")
	b.WriteString("/report\n  生成本週工作報告（可在私聊、群組或頻道中使用）\n")
	b.WriteString("/mytasks\n  查看本人負責的任務列表（不包含封存任務）\n")
	b.WriteString("/archived\n  查看本人封存的任務\n")
	b.WriteString("💡 提示: 在群組中發送包含 Jira 連結的訊息，機器人會自動解析並分配任務\n")
	b.WriteString("💡 提示: 在頻道中發送 /report 命令可直接在頻道中生成週報帖子\n")
	b.WriteString("💡 提示: 封存的任務不會出現在週報和任務列表中\n")

	kb := connector.Keyboard{
		connector.Row(
			connector.Button{Text: "📋 分配任務", SwitchInline: "/assign "},
			connector.Button{Text: "📊 更新狀態", SwitchInline: "/status "},
		),
		connector.Row(
			connector.Button{Text: "📈 更新進度", SwitchInline: "/progress "},
			connector.Button{Text: "📑 生成週報", SwitchInline: "/report"},
		),
		connector.Row(connector.Button{Text: "📋 我的任務", SwitchInline: "/mytasks"}),
	}
	r.send(ctx, chatID, b.String(), &connector.SendOptions{Keyboard: kb})
}

func statusList() string {
	var lines []string
	for i, st := range protocol.ReportStatuses {
		lines = append(lines, fmt.Sprintf("%d: %s", i, st.Label()))
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	r.send(ctx, chatID, text, nil)
}

func (r *Router) send(ctx context.Context, chatID int64, text string, opts *connector.SendOptions) {
	if _, err := r.transport.Send(ctx, chatID, text, opts); err != nil {
		r.logger.Error("send failed", "chat", chatID, "error", err)
	}
}

func (r *Router) edit(ctx context.Context, ref protocol.MessageRef, text string, opts *connector.SendOptions) {
	if err := r.transport.Edit(ctx, ref, text, opts); err != nil {
		r.logger.Warn("edit failed", "chat", ref.ChatID, "error", err)
	}
}

func (r *Router) answer(ctx context.Context, ev protocol.CallbackEvent, text string, alert bool) {
	if err := r.transport.AnswerCallback(ctx, ev.CallbackID, text, alert); err != nil {
		r.logger.Debug("callback answer failed", "error", err)
	}
}
