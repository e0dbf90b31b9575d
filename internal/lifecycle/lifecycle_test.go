package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/internal/jira"
	"github.com/missionbot-io/missionbot/internal/permission"
	"github.com/missionbot-io/missionbot/internal/task"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard connector.Keyboard
}

// fakeTransport records outbound traffic and serves canned member lookups.
type fakeTransport struct {
	sent       []sentMessage
	admins     map[int64]bool
	members    map[string]connector.ChatMember
	resolveErr error
	nextMsgID  int
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

func (f *fakeTransport) Edit(_ context.Context, _ protocol.MessageRef, _ string, _ *connector.SendOptions) error {
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _ protocol.MessageRef) error { return nil }

func (f *fakeTransport) AnswerCallback(_ context.Context, _, _ string, _ bool) error { return nil }

func (f *fakeTransport) ConversationAdmins(_ context.Context, _ int64) ([]connector.ChatMember, error) {
	var out []connector.ChatMember
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeTransport) ResolveMember(_ context.Context, _ int64, username string) (connector.ChatMember, error) {
	if f.resolveErr != nil {
		return connector.ChatMember{}, f.resolveErr
	}
	m, ok := f.members[username]
	if !ok {
		return connector.ChatMember{}, fmt.Errorf("member @%s not found", username)
	}
	return m, nil
}

func (f *fakeTransport) MemberIsAdmin(_ context.Context, _, userID int64) (bool, error) {
	return f.admins[userID], nil
}

// fakeDirectory returns a fixed title or error.
type fakeDirectory struct {
	title string
	err   error
}

func (f *fakeDirectory) FetchTitle(_ context.Context, _ string) (string, error) {
	return f.title, f.err
}

var (
	assignee = protocol.Actor{UserID: 42, Username: "john"}
	stranger = protocol.Actor{UserID: 99, Username: "rando"}
	group    = protocol.Conversation{ID: -100, Kind: protocol.ConvGroup}
	private  = protocol.Conversation{ID: 42, Kind: protocol.ConvPrivate}
)

func newTestEngine(t *testing.T, transport *fakeTransport, dir *fakeDirectory) (*Engine, *task.SQLiteStore) {
	t.Helper()
	store, err := task.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.DB().Close() })

	var directory jira.Directory
	if dir != nil {
		directory = dir
	}
	perms := permission.New(transport, nil)
	return New(store, transport, directory, perms, nil), store
}

func createReq(id string) CreateRequest {
	return CreateRequest{
		TicketID:         id,
		Title:            "Fix the bug",
		AssigneeUsername: "john",
		AssigneeUserID:   42,
		SourceURL:        "https://jira.example.com/browse/" + id,
		Actor:            assignee,
		Conversation:     group,
	}
}

func TestCreate(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, nil)

	created, err := e.Create(context.Background(), createReq("PROJ-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ReportStatus != protocol.StatusInProgress {
		t.Errorf("initial status = %q", created.ReportStatus)
	}

	got, err := store.Get("PROJ-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Fix the bug" || got.AssigneeUserID != 42 {
		t.Errorf("stored task: %+v", got)
	}

	entries, _ := store.History("PROJ-1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].OldStatus != "" || entries[0].NewStatus != protocol.StatusInProgress {
		t.Errorf("creation entry: %+v", entries[0])
	}

	// Known assignee: direct message with the Accept/Reject keyboard plus a
	// confirmation in the originating conversation.
	if len(tr.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(tr.sent))
	}
	if tr.sent[0].ChatID != 42 || tr.sent[0].Keyboard == nil {
		t.Errorf("first message should be a DM with keyboard: %+v", tr.sent[0])
	}
	if tr.sent[1].ChatID != group.ID {
		t.Errorf("second message should go to the group: %+v", tr.sent[1])
	}
}

func TestCreateDuplicate(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, nil)

	if _, err := e.Create(context.Background(), createReq("PROJ-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := e.Create(context.Background(), createReq("PROJ-1"))
	if !errors.Is(err, task.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	entries, _ := store.History("PROJ-1")
	if len(entries) != 1 {
		t.Errorf("duplicate create must not append history, got %d entries", len(entries))
	}
}

func TestCreateFetchesTitle(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, &fakeDirectory{title: "From tracker"})

	req := createReq("PROJ-2")
	req.Title = ""
	if _, err := e.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get("PROJ-2")
	if got.Title != "From tracker" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestCreateTitleFetchFailureDegrades(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, &fakeDirectory{err: errors.New("tracker down")})

	req := createReq("PROJ-3")
	req.Title = ""
	if _, err := e.Create(context.Background(), req); err != nil {
		t.Fatalf("create should not fail on fetch error: %v", err)
	}
	got, _ := store.Get("PROJ-3")
	if got.Title != "" {
		t.Errorf("title = %q, want empty", got.Title)
	}
}

func TestCreateResolvesAssigneeID(t *testing.T) {
	tr := &fakeTransport{members: map[string]connector.ChatMember{
		"jane": {UserID: 7, Username: "jane"},
	}}
	e, store := newTestEngine(t, tr, nil)

	req := createReq("PROJ-4")
	req.AssigneeUsername = "jane"
	req.AssigneeUserID = 0
	if _, err := e.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get("PROJ-4")
	if got.AssigneeUserID != 7 {
		t.Errorf("assignee user id = %d, want 7", got.AssigneeUserID)
	}
}

func TestCreateUnresolvedAssigneeNotifiesConversation(t *testing.T) {
	tr := &fakeTransport{resolveErr: errors.New("no roster access")}
	e, store := newTestEngine(t, tr, nil)

	req := createReq("PROJ-5")
	req.AssigneeUsername = "ghost"
	req.AssigneeUserID = 0
	if _, err := e.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get("PROJ-5")
	if got.AssigneeUserID != 0 {
		t.Errorf("assignee user id = %d, want 0", got.AssigneeUserID)
	}
	if len(tr.sent) != 1 || tr.sent[0].ChatID != group.ID || tr.sent[0].Keyboard == nil {
		t.Errorf("expected one group message with keyboard, got %+v", tr.sent)
	}
}

func TestSetReportStatusHistoryChain(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))

	ctx := context.Background()
	statuses := []protocol.ReportStatus{
		protocol.StatusShipped,
		protocol.StatusNextWeek,
		protocol.StatusInProgress,
	}
	for _, st := range statuses {
		if err := e.SetReportStatus(ctx, "PROJ-1", st, assignee, private); err != nil {
			t.Fatalf("set status %s: %v", st, err)
		}
	}

	entries, _ := store.History("PROJ-1")
	if len(entries) != len(statuses)+1 {
		t.Fatalf("expected %d history entries, got %d", len(statuses)+1, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].OldStatus != entries[i-1].NewStatus {
			t.Errorf("entry %d does not chain: old %q, prev new %q",
				i, entries[i].OldStatus, entries[i-1].NewStatus)
		}
	}
}

func TestSetReportStatusNotFound(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, tr, nil)
	err := e.SetReportStatus(context.Background(), "PROJ-404", protocol.StatusShipped, assignee, private)
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetReportStatusForbidden(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))

	err := e.SetReportStatus(context.Background(), "PROJ-1", protocol.StatusShipped, stranger, group)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSetProgress(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))
	ctx := context.Background()

	for _, p := range []int{0, 55, 100} {
		if err := e.SetProgress(ctx, "PROJ-1", p, assignee, private); err != nil {
			t.Fatalf("set progress %d: %v", p, err)
		}
		got, _ := store.Get("PROJ-1")
		if got.Progress != p {
			t.Errorf("progress = %d, want %d", got.Progress, p)
		}
	}

	for _, p := range []int{-1, 101} {
		if err := e.SetProgress(ctx, "PROJ-1", p, assignee, private); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("progress %d: expected ErrOutOfRange, got %v", p, err)
		}
	}
	got, _ := store.Get("PROJ-1")
	if got.Progress != 100 {
		t.Errorf("rejected updates must not change progress, got %d", got.Progress)
	}

	// No history rows for progress changes.
	entries, _ := store.History("PROJ-1")
	if len(entries) != 1 {
		t.Errorf("progress changes recorded history: %d entries", len(entries))
	}
}

func TestAccept(t *testing.T) {
	tr := &fakeTransport{}
	e, _ := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))
	ctx := context.Background()

	if _, err := e.Accept(ctx, "PROJ-1", assignee, private); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := e.Accept(ctx, "PROJ-1", stranger, group); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	e.SetReportStatus(ctx, "PROJ-1", protocol.StatusShipped, assignee, private)
	if _, err := e.Accept(ctx, "PROJ-1", assignee, private); !errors.Is(err, ErrWrongState) {
		t.Errorf("expected ErrWrongState after status change, got %v", err)
	}
}

func TestRejectArchives(t *testing.T) {
	tr := &fakeTransport{}
	e, store := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))
	ctx := context.Background()

	rejected, err := e.Reject(ctx, "PROJ-1", assignee, private)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.ReportStatus != protocol.StatusArchived {
		t.Errorf("status = %q, want archived", rejected.ReportStatus)
	}

	// Archived tasks disappear from every listing.
	for _, st := range protocol.ReportStatuses {
		s := st
		tasks, _ := store.List(task.Filter{Status: &s})
		if len(tasks) != 0 {
			t.Errorf("rejected task still listed under %s", st)
		}
	}

	entries, _ := store.History("PROJ-1")
	last := entries[len(entries)-1]
	if last.OldStatus != protocol.StatusInProgress || last.NewStatus != protocol.StatusArchived {
		t.Errorf("rejection history entry: %+v", last)
	}
}

func TestAdminMayMutate(t *testing.T) {
	tr := &fakeTransport{admins: map[int64]bool{99: true}}
	e, _ := newTestEngine(t, tr, nil)
	e.Create(context.Background(), createReq("PROJ-1"))

	admin := protocol.Actor{UserID: 99, Username: "boss"}
	if err := e.SetReportStatus(context.Background(), "PROJ-1", protocol.StatusShipped, admin, group); err != nil {
		t.Fatalf("group admin should be allowed: %v", err)
	}
}
