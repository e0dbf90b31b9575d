package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/missionbot-io/missionbot/internal/connector"
	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector implements connector.Connector and connector.Transport for
// Telegram. Updates are processed one at a time, so handlers for a single
// conversation never race each other.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// SetHandler installs the update handler. The connector is the bot's
// transport, so callers construct it first, wire their handler with it, and
// install the handler before Start. Not safe to call after Start.
func (c *Connector) SetHandler(h connector.Handler) {
	c.handler = h
}

// Start registers the command menu and begins long-polling for updates.
// Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Connector) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "help", Description: "顯示幫助資訊"},
		tgbotapi.BotCommand{Command: "assign", Description: "分配任務給指定用戶"},
		tgbotapi.BotCommand{Command: "status", Description: "更新任務狀態 (0=正在進行, 1=已上線, 2=下週繼續, 3=封存)"},
		tgbotapi.BotCommand{Command: "progress", Description: "更新任務進度 (0-100)"},
		tgbotapi.BotCommand{Command: "report", Description: "生成本週工作報告"},
		tgbotapi.BotCommand{Command: "mytasks", Description: "查看本人負責的任務列表"},
		tgbotapi.BotCommand{Command: "archived", Description: "查看封存的任務"},
	)
	if _, err := c.bot.Request(cmds); err != nil {
		c.logger.Warn("failed to register command menu", "error", err)
	}
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if c.handler == nil {
		return
	}
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)

	case update.ChannelPost != nil:
		c.handleChannelPost(ctx, update.ChannelPost)

	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !c.allowed(msg.From.ID) {
		if msg.From != nil {
			c.logger.Warn("unauthorized user", "user_id", msg.From.ID, "username", msg.From.UserName)
		}
		return
	}

	if msg.IsCommand() {
		c.handler.HandleCommand(ctx, protocol.CommandEvent{
			Actor:        actorOf(msg.From),
			Conversation: conversationOf(msg.Chat),
			Name:         msg.Command(),
			Args:         strings.Fields(msg.CommandArguments()),
		})
		return
	}

	if msg.Text == "" {
		return
	}

	c.handler.HandleText(ctx, protocol.TextEvent{
		Actor:        actorOf(msg.From),
		Conversation: conversationOf(msg.Chat),
		Text:         msg.Text,
	})
}

func (c *Connector) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.From == nil || !c.allowed(cq.From.ID) {
		return
	}

	action, err := protocol.DecodeCallback(cq.Data)
	if err != nil {
		c.logger.Warn("undecodable callback payload", "data", cq.Data, "error", err)
		c.AnswerCallback(ctx, cq.ID, "無效的操作", false)
		return
	}

	c.handler.HandleCallback(ctx, protocol.CallbackEvent{
		Actor:        actorOf(cq.From),
		Conversation: conversationOf(cq.Message.Chat),
		Origin: protocol.MessageRef{
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
		},
		CallbackID: cq.ID,
		Action:     action,
	})
}

func (c *Connector) handleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	name, args, ok := ParseCommandText(post.Text, c.bot.Self.UserName)
	if !ok {
		return
	}

	// Channel posts carry no sender; the channel itself is the actor.
	c.handler.HandleChannelPost(ctx, protocol.CommandEvent{
		Conversation: conversationOf(post.Chat),
		Name:         name,
		Args:         args,
	})
}

func (c *Connector) allowed(userID int64) bool {
	if len(c.config.AllowFrom) == 0 {
		return true
	}
	for _, id := range c.config.AllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// --- Transport ---

func (c *Connector) Send(_ context.Context, chatID int64, text string, opts *connector.SendOptions) (protocol.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if opts != nil {
		msg.DisableWebPagePreview = opts.DisablePreview
		if opts.Keyboard != nil {
			msg.ReplyMarkup = keyboardMarkup(opts.Keyboard)
		}
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return protocol.MessageRef{}, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return protocol.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (c *Connector) Edit(_ context.Context, ref protocol.MessageRef, text string, opts *connector.SendOptions) error {
	var err error
	if opts != nil && opts.Keyboard != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, text, keyboardMarkup(opts.Keyboard))
		_, err = c.bot.Send(edit)
	} else {
		edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
		_, err = c.bot.Send(edit)
	}
	if err != nil {
		return fmt.Errorf("telegram: edit message %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

func (c *Connector) Delete(_ context.Context, ref protocol.MessageRef) error {
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("telegram: delete message %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

func (c *Connector) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.CallbackConfig{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	}
	if _, err := c.bot.Request(cb); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

func (c *Connector) ConversationAdmins(_ context.Context, chatID int64) ([]connector.ChatMember, error) {
	admins, err := c.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: chat administrators of %d: %w", chatID, err)
	}

	members := make([]connector.ChatMember, 0, len(admins))
	for _, a := range admins {
		if a.User == nil || a.User.IsBot {
			continue
		}
		members = append(members, connector.ChatMember{
			UserID:      a.User.ID,
			Username:    a.User.UserName,
			DisplayName: displayName(a.User),
		})
	}
	return members, nil
}

func (c *Connector) ResolveMember(ctx context.Context, chatID int64, username string) (connector.ChatMember, error) {
	// Telegram exposes no username lookup; the admin roster is the only
	// population we can search.
	admins, err := c.ConversationAdmins(ctx, chatID)
	if err != nil {
		return connector.ChatMember{}, err
	}
	for _, m := range admins {
		if strings.EqualFold(m.Username, username) {
			return m, nil
		}
	}
	return connector.ChatMember{}, fmt.Errorf("telegram: member @%s not found in chat %d", username, chatID)
}

func (c *Connector) MemberIsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return false, fmt.Errorf("telegram: chat member %d/%d: %w", chatID, userID, err)
	}
	return member.Status == "creator" || member.Status == "administrator", nil
}

// --- helpers ---

func actorOf(user *tgbotapi.User) protocol.Actor {
	username := user.UserName
	if username == "" {
		username = user.FirstName
	}
	return protocol.Actor{UserID: user.ID, Username: username}
}

func conversationOf(chat *tgbotapi.Chat) protocol.Conversation {
	conv := protocol.Conversation{ID: chat.ID, Title: chat.Title}
	switch chat.Type {
	case "group", "supergroup":
		conv.Kind = protocol.ConvGroup
	case "channel":
		conv.Kind = protocol.ConvChannel
	default:
		conv.Kind = protocol.ConvPrivate
	}
	return conv
}

func displayName(user *tgbotapi.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.UserName
	}
	return name
}

// ParseCommandText splits raw message text of the form "/name@bot arg arg"
// into a command name and arguments. Returns ok=false for non-command text.
func ParseCommandText(text, botName string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if botName != "" && !strings.EqualFold(name[at+1:], botName) {
			return "", nil, false
		}
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func keyboardMarkup(kb connector.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.Action != nil {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, protocol.EncodeCallback(b.Action)))
			} else {
				sw := b.SwitchInline
				buttons = append(buttons, tgbotapi.InlineKeyboardButton{Text: b.Text, SwitchInlineQueryCurrentChat: &sw})
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
