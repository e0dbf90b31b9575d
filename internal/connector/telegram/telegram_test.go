package telegram

import (
	"reflect"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

func TestParseCommandText(t *testing.T) {
	cases := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{"/report", "report", []string{}, true},
		{"/status PROJ-1 2", "status", []string{"PROJ-1", "2"}, true},
		{"/report@missionbot", "report", []string{}, true},
		{"/report@otherbot", "", nil, false},
		{"not a command", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, c := range cases {
		name, args, ok := ParseCommandText(c.text, "missionbot")
		if ok != c.ok || name != c.name {
			t.Errorf("ParseCommandText(%q) = %q, %v, want %q, %v", c.text, name, ok, c.name, c.ok)
			continue
		}
		if ok && !reflect.DeepEqual(args, c.args) {
			t.Errorf("ParseCommandText(%q) args = %v, want %v", c.text, args, c.args)
		}
	}
}

func TestConversationOf(t *testing.T) {
	cases := []struct {
		chatType string
		want     protocol.ConversationKind
	}{
		{"private", protocol.ConvPrivate},
		{"group", protocol.ConvGroup},
		{"supergroup", protocol.ConvGroup},
		{"channel", protocol.ConvChannel},
	}
	for _, c := range cases {
		conv := conversationOf(&tgbotapi.Chat{ID: 10, Type: c.chatType})
		if conv.Kind != c.want {
			t.Errorf("chat type %q: got kind %q, want %q", c.chatType, conv.Kind, c.want)
		}
	}
}

func TestActorOfUsernameFallback(t *testing.T) {
	a := actorOf(&tgbotapi.User{ID: 5, UserName: "john"})
	if a.Username != "john" {
		t.Errorf("expected john, got %q", a.Username)
	}
	a = actorOf(&tgbotapi.User{ID: 5, FirstName: "Jane"})
	if a.Username != "Jane" {
		t.Errorf("expected first-name fallback, got %q", a.Username)
	}
}

func TestKeyboardMarkup(t *testing.T) {
	kb := connector.Keyboard{
		connector.Row(
			connector.Button{Text: "受理", Action: protocol.AcceptAction{TicketID: "PROJ-1"}},
			connector.Button{Text: "拒絕", Action: protocol.RejectAction{TicketID: "PROJ-1"}},
		),
		connector.Row(connector.Button{Text: "更新進度", SwitchInline: "/progress PROJ-1 "}),
	}

	mk := keyboardMarkup(kb)
	if len(mk.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(mk.InlineKeyboard))
	}
	first := mk.InlineKeyboard[0][0]
	if first.CallbackData == nil || *first.CallbackData != "accept:PROJ-1" {
		t.Errorf("unexpected callback data: %v", first.CallbackData)
	}
	sw := mk.InlineKeyboard[1][0]
	if sw.SwitchInlineQueryCurrentChat == nil || *sw.SwitchInlineQueryCurrentChat != "/progress PROJ-1 " {
		t.Errorf("unexpected switch inline: %v", sw.SwitchInlineQueryCurrentChat)
	}
}
