package protocol

// Actor is the user who triggered an inbound event.
type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"` // falls back to the display name when the account has no handle
}

// ConversationKind distinguishes the chat contexts events can occur in.
type ConversationKind string

const (
	ConvPrivate ConversationKind = "private"
	ConvGroup   ConversationKind = "group"
	ConvChannel ConversationKind = "channel"
)

// Conversation is the chat context of an inbound event.
type Conversation struct {
	ID    int64            `json:"id"`
	Kind  ConversationKind `json:"kind"`
	Title string           `json:"title,omitempty"`
}

// IsGroup reports whether the conversation is a multi-party context.
// Wizard flows and admin checks only apply here.
func (c Conversation) IsGroup() bool { return c.Kind == ConvGroup }

// MessageRef identifies a sent message for later edit or delete.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// CommandEvent is an inbound slash command.
type CommandEvent struct {
	Actor        Actor
	Conversation Conversation
	Name         string   // command without the leading slash
	Args         []string // whitespace-split arguments
}

// TextEvent is inbound free text (non-command).
type TextEvent struct {
	Actor        Actor
	Conversation Conversation
	Text         string
}

// CallbackEvent is an inline-keyboard button press. The raw colon-delimited
// payload is decoded into a CallbackAction at the transport boundary.
type CallbackEvent struct {
	Actor        Actor
	Conversation Conversation
	Origin       MessageRef // the message carrying the keyboard
	CallbackID   string     // opaque handle for AnswerCallback
	Action       CallbackAction
}
