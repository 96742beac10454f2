package bot

import (
	"context"
	"log"

	"github.com/alexmontesino96/familybot/internal/flow"
	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/bwmarrin/discordgo"
)

const menuCommand = "familia"

func (d *Discord) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("discord: %s is connected!", event.User.Username)

	if err := d.registerCommands(event.User.ID); err != nil {
		log.Printf("discord: failed to register commands: %v", err)
	}
}

// registerCommands installs the global /familia command, usable from DMs.
func (d *Discord) registerCommands(appID string) error {
	cmds := []*discordgo.ApplicationCommand{
		{
			Name:         menuCommand,
			Description:  "Abre el menú de gastos familiares por mensaje directo",
			DMPermission: boolPtr(true),
		},
	}
	// Delete existing commands and register new ones
	if _, err := d.session.ApplicationCommandBulkOverwrite(appID, "", cmds); err != nil {
		return err
	}
	log.Printf("discord: registered application commands")
	return nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages
	if m.Author == nil || m.Author.Bot {
		return
	}
	// conversations are private; server channels are ignored
	if m.GuildID != "" {
		return
	}
	metrics.InboundUpdates.WithLabelValues(notify.PlatformDiscord, "text").Inc()
	d.dispatch(m.ChannelID, flow.Input{User: discordUser(m.Author), Text: m.Content})
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name != menuCommand {
			return
		}
		metrics.InboundUpdates.WithLabelValues(notify.PlatformDiscord, "command").Inc()
		d.respond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "📬 Te escribí por mensaje directo.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		ch, err := d.api.UserChannelCreate(user.ID)
		if err != nil {
			log.Printf("discord: failed to open DM with %s: %v", user.ID, err)
			return
		}
		d.dispatch(ch.ID, flow.Input{User: discordUser(user), Text: "/menu"})

	case discordgo.InteractionMessageComponent:
		metrics.InboundUpdates.WithLabelValues(notify.PlatformDiscord, "button").Inc()
		d.respond(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
		d.dispatch(i.ChannelID, flow.Input{User: discordUser(user), Data: i.MessageComponentData().CustomID})
	}
}

func (d *Discord) respond(i *discordgo.InteractionCreate, resp *discordgo.InteractionResponse) {
	if err := d.api.InteractionRespond(i.Interaction, resp); err != nil {
		log.Printf("discord: failed to answer interaction %s: %v", i.ID, err)
	}
}

// dispatch runs in through the engine on the user's queue and sends the
// replies to channelID.
func (d *Discord) dispatch(channelID string, in flow.Input) {
	d.queue.Do(in.User.Identity, func() {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()
		d.reply(channelID, d.handler.Handle(ctx, in))
	})
}
