package connector

import (
	"context"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Connector is the lifecycle interface for chat platform connectors.
type Connector interface {
	// Name returns the connector type (e.g., "telegram").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Button is one inline-keyboard button. Exactly one of Action or SwitchInline
// is set: Action buttons fire a callback event, SwitchInline buttons pre-fill
// the actor's input box with the given text.
type Button struct {
	Text         string
	Action       protocol.CallbackAction
	SwitchInline string
}

// Keyboard is an inline keyboard: rows of buttons.
type Keyboard [][]Button

// Row builds a single keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// SendOptions carries optional message attributes.
type SendOptions struct {
	Keyboard       Keyboard
	DisablePreview bool
}

// ChatMember describes a resolvable member of a conversation.
type ChatMember struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Transport is the narrow chat-platform surface the engines consume.
// Lookup failures are expected; callers degrade on error rather than fail.
type Transport interface {
	// Send delivers a message to a chat and returns a reference for later
	// edits or deletion.
	Send(ctx context.Context, chatID int64, text string, opts *SendOptions) (protocol.MessageRef, error)
	// Edit replaces the text (and keyboard) of a previously sent message.
	Edit(ctx context.Context, ref protocol.MessageRef, text string, opts *SendOptions) error
	// Delete removes a previously sent message.
	Delete(ctx context.Context, ref protocol.MessageRef) error
	// AnswerCallback acknowledges an inline-keyboard press, optionally with
	// a toast (alert=false) or a modal alert (alert=true).
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	// ConversationAdmins lists the administrators of a multi-party
	// conversation. This is the only roster the platform exposes, so wizard
	// candidate lists are limited to it.
	ConversationAdmins(ctx context.Context, chatID int64) ([]ChatMember, error)
	// ResolveMember resolves a username to a member of the conversation.
	// Resolution is limited to the admin roster (platform constraint).
	ResolveMember(ctx context.Context, chatID int64, username string) (ChatMember, error)
	// MemberIsAdmin reports whether the user is an owner or administrator
	// of the conversation.
	MemberIsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Handler receives inbound chat events from a connector.
type Handler interface {
	HandleCommand(ctx context.Context, ev protocol.CommandEvent)
	HandleText(ctx context.Context, ev protocol.TextEvent)
	HandleCallback(ctx context.Context, ev protocol.CallbackEvent)
	// HandleChannelPost receives commands posted in broadcast channels.
	// Channels never originate wizard flows.
	HandleChannelPost(ctx context.Context, ev protocol.CommandEvent)
}
