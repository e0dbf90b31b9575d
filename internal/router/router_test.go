package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/internal/flow"
	"github.com/missionbot-io/missionbot/internal/lifecycle"
	"github.com/missionbot-io/missionbot/internal/parse"
	"github.com/missionbot-io/missionbot/internal/permission"
	"github.com/missionbot-io/missionbot/internal/report"
	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard connector.Keyboard
}

type fakeTransport struct {
	sent      []sentMessage
	edits     []sentMessage
	deleted   []protocol.MessageRef
	answers   []string
	admins    []connector.ChatMember
	nextMsgID int
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text string, opts *connector.SendOptions) (protocol.MessageRef, error) {
	m := sentMessage{ChatID: chatID, Text: text}
	if opts != nil {
		m.Keyboard = opts.Keyboard
	}
	f.sent = append(f.sent, m)
	f.nextMsgID++
	return protocol.MessageRef{ChatID: chatID, MessageID: f.nextMsgID}, nil
}

func (f *fakeTransport) Edit(_ context.Context, ref protocol.MessageRef, text string, opts *connector.SendOptions) error {
	m := sentMessage{ChatID: ref.ChatID, Text: text}
	if opts != nil {
		m.Keyboard = opts.Keyboard
	}
	f.edits = append(f.edits, m)
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, ref protocol.MessageRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, _, text string, _ bool) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) ConversationAdmins(_ context.Context, _ int64) ([]connector.ChatMember, error) {
	return f.admins, nil
}

func (f *fakeTransport) ResolveMember(_ context.Context, _ int64, username string) (connector.ChatMember, error) {
	for _, m := range f.admins {
		if m.Username == username {
			return m, nil
		}
	}
	return connector.ChatMember{}, errors.New("member not found")
}

func (f *fakeTransport) MemberIsAdmin(_ context.Context, _, _ int64) (bool, error) {
	return false, nil
}

func (f *fakeTransport) lastSent(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) lastEdit(t *testing.T) sentMessage {
	t.Helper()
	if len(f.edits) == 0 {
		t.Fatal("no messages edited")
	}
	return f.edits[len(f.edits)-1]
}

var (
	alice   = protocol.Actor{UserID: 1, Username: "alice"}
	group   = protocol.Conversation{ID: -900, Kind: protocol.ConvGroup}
	private = protocol.Conversation{ID: 1, Kind: protocol.ConvPrivate}
)

func newTestRouter(t *testing.T, tr *fakeTransport) (*Router, task.Store) {
	t.Helper()
	store, err := task.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.DB().Close() })

	parser := parse.NewParser("jira.example.com")
	perms := permission.New(tr, nil)
	lc := lifecycle.New(store, tr, nil, perms, nil)
	flows := flow.New(flow.NewStates(), lc, tr, parser, nil)
	return New(lc, flows, report.New(store), store, tr, parser, nil), store
}

func command(actor protocol.Actor, conv protocol.Conversation, name string, args ...string) protocol.CommandEvent {
	return protocol.CommandEvent{Actor: actor, Conversation: conv, Name: name, Args: args}
}

func callback(actor protocol.Actor, action protocol.CallbackAction) protocol.CallbackEvent {
	return protocol.CallbackEvent{
		Actor:        actor,
		Conversation: group,
		Origin:       protocol.MessageRef{ChatID: group.ID, MessageID: 10},
		CallbackID:   "cb",
		Action:       action,
	}
}

func mustCreate(t *testing.T, store task.Store, id string, actor protocol.Actor, status protocol.ReportStatus, progress int) {
	t.Helper()
	now := time.Now()
	err := store.Insert(&protocol.Task{
		TicketID:         id,
		Title:            "工作項目",
		AssigneeUsername: actor.Username,
		AssigneeUserID:   actor.UserID,
		ReportStatus:     status,
		Progress:         progress,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestAssignCommandBothArgOrders(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()

	r.HandleCommand(ctx, command(alice, group, "assign", "PROJ-1", "@bob", "修復", "登入"))
	got, err := store.Get("PROJ-1")
	if err != nil {
		t.Fatalf("ticket-first order: %v", err)
	}
	if got.AssigneeUsername != "bob" || got.Title != "修復 登入" {
		t.Errorf("created task: %+v", got)
	}

	r.HandleCommand(ctx, command(alice, group, "assign", "@carol", "PROJ-2"))
	got, err = store.Get("PROJ-2")
	if err != nil {
		t.Fatalf("mention-first order: %v", err)
	}
	if got.AssigneeUsername != "carol" {
		t.Errorf("created task: %+v", got)
	}
}

func TestAssignCommandInvalidArgs(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()

	r.HandleCommand(ctx, command(alice, group, "assign", "proj-1", "@bob"))
	if !strings.Contains(tr.lastSent(t).Text, "無效的工作單號格式") {
		t.Errorf("lowercase ticket should be rejected, got %q", tr.lastSent(t).Text)
	}

	r.HandleCommand(ctx, command(alice, group, "assign", "PROJ-1", "50"))
	if !strings.Contains(tr.lastSent(t).Text, "無效的用戶名格式") {
		t.Errorf("missing mention should be rejected, got %q", tr.lastSent(t).Text)
	}

	if tasks, _ := store.List(task.Filter{}); len(tasks) != 0 {
		t.Errorf("invalid args must not create tasks, got %d", len(tasks))
	}
}

func TestAssignCommandStartsWizard(t *testing.T) {
	tr := &fakeTransport{admins: []connector.ChatMember{{UserID: 2, Username: "bob"}}}
	r, _ := newTestRouter(t, tr)

	r.HandleCommand(context.Background(), command(alice, group, "assign"))
	last := tr.lastSent(t)
	if !strings.Contains(last.Text, "請選擇要分配任務的用戶") || len(last.Keyboard) != 2 {
		t.Errorf("wizard prompt missing, got %q with %d rows", last.Text, len(last.Keyboard))
	}
}

func TestStatusCommand(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 0)

	r.HandleCommand(ctx, command(alice, private, "status", "PROJ-1", "1"))
	got, _ := store.Get("PROJ-1")
	if got.ReportStatus != protocol.StatusShipped {
		t.Errorf("status = %q, want shipped", got.ReportStatus)
	}
	if !strings.Contains(tr.lastSent(t).Text, "已上線") {
		t.Errorf("success reply: %q", tr.lastSent(t).Text)
	}

	// Label form works too.
	r.HandleCommand(ctx, command(alice, private, "status", "PROJ-1", "下週繼續"))
	got, _ = store.Get("PROJ-1")
	if got.ReportStatus != protocol.StatusNextWeek {
		t.Errorf("status = %q, want next_week", got.ReportStatus)
	}
}

func TestStatusCommandInvalid(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 0)

	r.HandleCommand(ctx, command(alice, private, "status", "PROJ-1", "nonsense"))
	if !strings.Contains(tr.lastSent(t).Text, "無效的狀態") {
		t.Errorf("invalid status reply: %q", tr.lastSent(t).Text)
	}

	r.HandleCommand(ctx, command(alice, private, "status", "PROJ-404", "1"))
	if !strings.Contains(tr.lastSent(t).Text, "不存在") {
		t.Errorf("missing task reply: %q", tr.lastSent(t).Text)
	}
}

func TestStatusCommandUsage(t *testing.T) {
	tr := &fakeTransport{}
	r, _ := newTestRouter(t, tr)

	r.HandleCommand(context.Background(), command(alice, private, "status"))
	last := tr.lastSent(t)
	if !strings.Contains(last.Text, "用法") || len(last.Keyboard) != 2 {
		t.Errorf("usage prompt: %q with %d rows", last.Text, len(last.Keyboard))
	}
}

func TestProgressCommand(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 0)

	r.HandleCommand(ctx, command(alice, private, "progress", "PROJ-1", "80"))
	got, _ := store.Get("PROJ-1")
	if got.Progress != 80 {
		t.Errorf("progress = %d, want 80", got.Progress)
	}

	r.HandleCommand(ctx, command(alice, private, "progress", "PROJ-1", "150"))
	if !strings.Contains(tr.lastSent(t).Text, "0-100") {
		t.Errorf("out-of-range reply: %q", tr.lastSent(t).Text)
	}
	got, _ = store.Get("PROJ-1")
	if got.Progress != 80 {
		t.Errorf("rejected update changed progress to %d", got.Progress)
	}
}

func TestMutationForbiddenForStranger(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 0)

	stranger := protocol.Actor{UserID: 99, Username: "rando"}
	r.HandleCommand(context.Background(), command(stranger, group, "status", "PROJ-1", "1"))
	if !strings.Contains(tr.lastSent(t).Text, "只有任務負責人或管理員") {
		t.Errorf("forbidden reply: %q", tr.lastSent(t).Text)
	}
	got, _ := store.Get("PROJ-1")
	if got.ReportStatus != protocol.StatusInProgress {
		t.Errorf("forbidden mutation changed status to %q", got.ReportStatus)
	}
}

func TestReportCommandAndChannelPost(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 40)

	r.HandleCommand(ctx, command(alice, private, "report"))
	if !strings.Contains(tr.lastSent(t).Text, "📊 週報") {
		t.Errorf("report reply: %q", tr.lastSent(t).Text)
	}

	channel := protocol.Conversation{ID: -1009, Kind: protocol.ConvChannel}
	r.HandleChannelPost(ctx, command(protocol.Actor{}, channel, "report"))
	last := tr.lastSent(t)
	if last.ChatID != channel.ID || !strings.Contains(last.Text, "📊 週報") {
		t.Errorf("channel report: %+v", last)
	}

	// Other channel commands are ignored.
	before := len(tr.sent)
	r.HandleChannelPost(ctx, command(protocol.Actor{}, channel, "mytasks"))
	if len(tr.sent) != before {
		t.Error("non-report channel command should be ignored")
	}
}

func TestAcceptRejectCallbacks(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 0)
	mustCreate(t, store, "PROJ-2", alice, protocol.StatusInProgress, 0)

	r.HandleCallback(ctx, callback(alice, protocol.AcceptAction{TicketID: "PROJ-1"}))
	if !strings.Contains(tr.lastEdit(t).Text, "任務已受理") {
		t.Errorf("accept edit: %q", tr.lastEdit(t).Text)
	}

	r.HandleCallback(ctx, callback(alice, protocol.RejectAction{TicketID: "PROJ-2"}))
	got, _ := store.Get("PROJ-2")
	if got.ReportStatus != protocol.StatusArchived {
		t.Errorf("rejected task status = %q", got.ReportStatus)
	}

	// Accept after a status change reports the state conflict.
	r.HandleCallback(ctx, callback(alice, protocol.AcceptAction{TicketID: "PROJ-2"}))
	if tr.answers[len(tr.answers)-1] != "任務狀態已變更" {
		t.Errorf("wrong-state answer: %q", tr.answers[len(tr.answers)-1])
	}
}

func TestMyTasksPagination(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		mustCreate(t, store, fmt.Sprintf("PROJ-%d", i), alice, protocol.StatusInProgress, 0)
	}

	r.HandleCommand(ctx, command(alice, private, "mytasks"))
	last := tr.lastSent(t)
	if !strings.Contains(last.Text, "總共 7 個任務") || !strings.Contains(last.Text, "頁面 1/2") {
		t.Errorf("list header: %q", last.Text)
	}
	// 5 task rows, one pagination row, one bottom row.
	if len(last.Keyboard) != 7 {
		t.Errorf("page 0 keyboard rows = %d, want 7", len(last.Keyboard))
	}

	r.HandleCallback(ctx, callback(alice, protocol.MyTasksPageAction{Page: 1}))
	edit := tr.lastEdit(t)
	if !strings.Contains(edit.Text, "頁面 2/2") {
		t.Errorf("page 1 header: %q", edit.Text)
	}
	// 2 task rows, one pagination row, one bottom row.
	if len(edit.Keyboard) != 4 {
		t.Errorf("page 1 keyboard rows = %d, want 4", len(edit.Keyboard))
	}

	// Out-of-range pages clamp instead of failing.
	r.HandleCallback(ctx, callback(alice, protocol.MyTasksPageAction{Page: 99}))
	if !strings.Contains(tr.lastEdit(t).Text, "頁面 2/2") {
		t.Errorf("clamped page header: %q", tr.lastEdit(t).Text)
	}
}

func TestMyTasksEmpty(t *testing.T) {
	tr := &fakeTransport{}
	r, _ := newTestRouter(t, tr)

	r.HandleCommand(context.Background(), command(alice, private, "mytasks"))
	if !strings.Contains(tr.lastSent(t).Text, "沒有任何負責的任務") {
		t.Errorf("empty list reply: %q", tr.lastSent(t).Text)
	}
}

func TestTaskDetailAndMenus(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusInProgress, 30)

	r.HandleCallback(ctx, callback(alice, protocol.TaskDetailAction{TicketID: "PROJ-1"}))
	detail := tr.lastEdit(t)
	if !strings.Contains(detail.Text, "任務詳情") || !strings.Contains(detail.Text, "進度: 30%") {
		t.Errorf("detail text: %q", detail.Text)
	}

	r.HandleCallback(ctx, callback(alice, protocol.ShowStatusMenuAction{TicketID: "PROJ-1"}))
	// 4 statuses in pairs plus a back row.
	if menu := tr.lastEdit(t); len(menu.Keyboard) != 3 {
		t.Errorf("status menu rows = %d, want 3", len(menu.Keyboard))
	}

	r.HandleCallback(ctx, callback(alice, protocol.UpdateStatusAction{TicketID: "PROJ-1", StatusIndex: 1}))
	got, _ := store.Get("PROJ-1")
	if got.ReportStatus != protocol.StatusShipped {
		t.Errorf("menu status update: %q", got.ReportStatus)
	}

	r.HandleCallback(ctx, callback(alice, protocol.UpdateProgressAction{TicketID: "PROJ-1", Progress: 75}))
	got, _ = store.Get("PROJ-1")
	if got.Progress != 75 {
		t.Errorf("menu progress update: %d", got.Progress)
	}
}

func TestArchivedCommand(t *testing.T) {
	tr := &fakeTransport{}
	r, store := newTestRouter(t, tr)
	ctx := context.Background()
	mustCreate(t, store, "PROJ-1", alice, protocol.StatusArchived, 0)
	mustCreate(t, store, "PROJ-2", alice, protocol.StatusInProgress, 0)

	r.HandleCommand(ctx, command(alice, private, "archived"))
	last := tr.lastSent(t)
	if !strings.Contains(last.Text, "PROJ-1") || strings.Contains(last.Text, "PROJ-2") {
		t.Errorf("archived listing: %q", last.Text)
	}
}

func TestHelpCommand(t *testing.T) {
	tr := &fakeTransport{}
	r, _ := newTestRouter(t, tr)

	r.HandleCommand(context.Background(), command(alice, private, "help"))
	last := tr.lastSent(t)
	if !strings.Contains(last.Text, "可用命令列表") || len(last.Keyboard) != 3 {
		t.Errorf("help reply: %q with %d rows", last.Text, len(last.Keyboard))
	}
}
