package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/paycollect/internal/alert"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("%s is connected!", event.User.Username)

	// Global commands so they are usable in DMs.
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", commands); err != nil {
		log.Printf("Failed to register application commands: %v", err)
		return
	}
	log.Println("Registered application commands")
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != "amount" {
		return
	}

	var content string
	user := interactionUser(i)
	switch {
	case user == nil:
		return
	case i.GuildID != "":
		content = msgUseDM
	default:
		content = b.quoteReply(context.Background(), user)
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	}); err != nil {
		log.Printf("Failed to respond to interaction: %v", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.User != nil {
		return i.User
	}
	if i.Member != nil {
		return i.Member.User
	}
	return nil
}

func (b *Bot) quoteReply(ctx context.Context, user *discordgo.User) string {
	q, err := b.payments.Quote(ctx, user.ID, user.Username)
	if err != nil {
		return b.errorReply(ctx, user, "amount", err)
	}
	return quoteMessage(q)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages and anything outside DMs
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}

	ctx := context.Background()
	var content string
	att := proofAttachment(m.Attachments)
	if att == nil {
		content = msgSendPhoto
	} else {
		content = b.submitReply(ctx, m.Author, att.URL)
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, content); err != nil {
		log.Printf("Failed to reply to %s: %v", m.Author.ID, err)
	}
}

func (b *Bot) submitReply(ctx context.Context, user *discordgo.User, proofURL string) string {
	r, err := b.payments.Submit(ctx, user.ID, user.Username, proofURL)
	if err != nil {
		return b.errorReply(ctx, user, "submit", err)
	}

	invite, err := b.createInvite()
	if err != nil {
		log.Printf("Failed to create invite for %s: %v", user.ID, err)
		b.notify(ctx, fmt.Sprintf("invite link for %s failed: %v", user.Username, err))
	}
	return receiptMessage(r, invite)
}

// errorReply maps err to a user-facing message. Unexpected errors are reported
// to operators with a reference the user can quote.
func (b *Bot) errorReply(ctx context.Context, user *discordgo.User, op string, err error) string {
	if msg, ok := knownErrorMessage(err, user.Username); ok {
		return msg
	}
	ref := alert.NewReference()
	log.Printf("%s failed for %s (%s) ref=%s: %v", op, user.Username, user.ID, ref, err)
	b.notify(ctx, fmt.Sprintf("ERROR ref=%s\n%s for %s (%s):\n%v", ref, op, user.Username, user.ID, err))
	return fmt.Sprintf(msgGenericFailure, ref)
}

func (b *Bot) notify(ctx context.Context, text string) {
	if b.alerts == nil {
		return
	}
	if err := b.alerts.Notify(ctx, text); err != nil {
		log.Printf("Failed to send operator alert: %v", err)
	}
}

func proofAttachment(atts []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range atts {
		if strings.HasPrefix(a.ContentType, "image/") || a.Width > 0 {
			return a
		}
	}
	return nil
}
