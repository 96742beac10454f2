package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/alexmontesino96/familybot/internal/flow"
	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/alexmontesino96/familybot/internal/notify"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Minimal Bot API surface used by the adapter.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram long-polls the Bot API. Only private chats are served; the
// sender's user id is the identity the ledger knows as telegram_id.
type Telegram struct {
	api     telegramAPI
	handler Handler
	queue   *keyedQueue
	done    chan struct{}
}

var _ notify.Sender = (*Telegram)(nil)

func NewTelegram(token string, handler Handler) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Printf("telegram: authorized as @%s", api.Self.UserName)
	return newTelegram(api, handler), nil
}

func newTelegram(api telegramAPI, handler Handler) *Telegram {
	return &Telegram{api: api, handler: handler, queue: newKeyedQueue(), done: make(chan struct{})}
}

func (t *Telegram) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := t.api.GetUpdatesChan(u)

	go func() {
		defer close(t.done)
		for update := range updates {
			t.handleUpdate(update)
		}
	}()
	log.Println("telegram: bot is running")
	return nil
}

// Stop ends long polling and waits for updates already queued.
func (t *Telegram) Stop() error {
	t.api.StopReceivingUpdates()
	<-t.done
	t.queue.Wait()
	return nil
}

func (t *Telegram) Platform() string { return notify.PlatformTelegram }

// Send delivers a notification to a private chat id.
func (t *Telegram) Send(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	_, err = t.api.Send(tgbotapi.NewMessage(id, text))
	return err
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		m := update.Message
		if m.From == nil || !m.Chat.IsPrivate() {
			return
		}
		kind := "text"
		if m.IsCommand() {
			kind = "command"
		}
		metrics.InboundUpdates.WithLabelValues(notify.PlatformTelegram, kind).Inc()
		t.dispatch(m.Chat.ID, flow.Input{User: telegramUser(m.From), Text: m.Text})

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		// stop the client's spinner whatever happens next
		if _, err := t.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			log.Printf("telegram: failed to answer callback %s: %v", q.ID, err)
		}
		if q.From == nil || q.Message == nil || !q.Message.Chat.IsPrivate() {
			return
		}
		metrics.InboundUpdates.WithLabelValues(notify.PlatformTelegram, "button").Inc()
		t.dispatch(q.Message.Chat.ID, flow.Input{User: telegramUser(q.From), Data: q.Data})
	}
}

func (t *Telegram) dispatch(chatID int64, in flow.Input) {
	t.queue.Do(in.User.Identity, func() {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()
		for _, r := range t.handler.Handle(ctx, in) {
			if _, err := t.api.Send(telegramMessage(chatID, r)); err != nil {
				log.Printf("telegram: failed to send message to chat %d: %v", chatID, err)
				return
			}
		}
	})
}

func telegramMessage(chatID int64, r flow.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if len(r.Keyboard) > 0 {
		msg.ReplyMarkup = inlineKeyboard(r.Keyboard)
	}
	return msg
}

func inlineKeyboard(rows [][]flow.Button) tgbotapi.InlineKeyboardMarkup {
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		out := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action.Encode()))
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(out...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(buttons...)
}

func telegramUser(u *tgbotapi.User) flow.User {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return flow.User{Identity: strconv.FormatInt(u.ID, 10), Name: name}
}
