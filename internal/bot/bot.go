// Package bot connects the chat platforms to the conversation engine. Each
// adapter turns platform updates into flow.Input, runs them through a
// per-user queue and renders flow.Reply back as messages with buttons.
package bot

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/alexmontesino96/familybot/internal/flow"
	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/bwmarrin/discordgo"
)

// Handler turns one inbound update into the replies to send back.
type Handler interface {
	Handle(ctx context.Context, in flow.Input) []flow.Reply
}

// Minimal session interface for sending messages and answering interactions.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Discord runs conversations in direct messages. The /familia command opens
// the menu from any server the bot shares with the user.
type Discord struct {
	session *discordgo.Session
	api     discordSession
	handler Handler
	queue   *keyedQueue
}

var _ notify.Sender = (*Discord)(nil)

func NewDiscord(token string, handler Handler) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	d := &Discord{
		session: session,
		api:     session,
		handler: handler,
		queue:   newKeyedQueue(),
	}

	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuilds

	return d, nil
}

func (d *Discord) Start() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Println("discord: bot is running")
	return nil
}

// Stop closes the gateway and waits for updates already queued.
func (d *Discord) Stop() error {
	err := d.session.Close()
	d.queue.Wait()
	return err
}

func (d *Discord) Platform() string { return notify.PlatformDiscord }

// Send delivers a notification to a Discord user id over DM.
func (d *Discord) Send(ctx context.Context, userID, text string) error {
	ch, err := d.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM with %s: %w", userID, err)
	}
	_, err = d.api.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{Content: clip(text, maxDiscordContent)}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) reply(channelID string, replies []flow.Reply) {
	for _, r := range replies {
		for _, msg := range discordMessages(r) {
			if _, err := d.api.ChannelMessageSendComplex(channelID, msg); err != nil {
				log.Printf("discord: failed to send message to channel %s: %v", channelID, err)
				return
			}
		}
	}
}

const (
	maxDiscordRows    = 5
	maxDiscordButtons = 5
	maxDiscordLabel   = 80
	maxDiscordContent = 2000
)

// discordMessages renders r as one or more messages. Discord allows five
// action rows of five buttons per message; extra rows go out as follow-ups.
func discordMessages(r flow.Reply) []*discordgo.MessageSend {
	content := clip(r.Text, maxDiscordContent)

	var rows []discordgo.MessageComponent
	for _, row := range r.Keyboard {
		for len(row) > 0 {
			n := min(len(row), maxDiscordButtons)
			rows = append(rows, actionsRow(row[:n]))
			row = row[n:]
		}
	}
	if len(rows) == 0 {
		return []*discordgo.MessageSend{{Content: content}}
	}

	var out []*discordgo.MessageSend
	for i := 0; i < len(rows); i += maxDiscordRows {
		end := min(i+maxDiscordRows, len(rows))
		msg := &discordgo.MessageSend{Content: "…", Components: rows[i:end]}
		if i == 0 {
			msg.Content = content
		}
		out = append(out, msg)
	}
	return out
}

func actionsRow(buttons []flow.Button) discordgo.ActionsRow {
	comps := make([]discordgo.MessageComponent, 0, len(buttons))
	for _, b := range buttons {
		style := discordgo.SecondaryButton
		switch b.Action.Code {
		case flow.CodeConfirm, flow.CodePaymentConfirm:
			style = discordgo.SuccessButton
		case flow.CodeCancel, flow.CodePaymentReject, flow.CodeExpenseDeleteConfirm:
			style = discordgo.DangerButton
		}
		comps = append(comps, discordgo.Button{
			Label:    clip(b.Label, maxDiscordLabel),
			Style:    style,
			CustomID: b.Action.Encode(),
		})
	}
	return discordgo.ActionsRow{Components: comps}
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func discordUser(u *discordgo.User) flow.User {
	return flow.User{Identity: notify.DiscordIdentity(u.ID), Name: u.Username}
}

func boolPtr(b bool) *bool {
	return &b
}
