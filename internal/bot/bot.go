package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/paycollect/internal/alert"
	"github.com/susu3304/paycollect/internal/payment"
)

// Payments is the request path the bot drives.
type Payments interface {
	Quote(ctx context.Context, participantKey, username string) (*payment.Quote, error)
	Submit(ctx context.Context, participantKey, username, proofReference string) (*payment.Receipt, error)
}

type Bot struct {
	session         *discordgo.Session
	payments        Payments
	alerts          alert.Notifier
	inviteChannelID string
	reminders       *reminderWorker
}

// Options configures the optional parts of the bot.
type Options struct {
	InviteChannelID string
	// Assignments and ReminderInterval enable unpaid reminders when both are set.
	Assignments      AssignmentLister
	ReminderInterval time.Duration
}

func New(token string, payments Payments, alerts alert.Notifier, opts Options) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session:         session,
		payments:        payments,
		alerts:          alerts,
		inviteChannelID: opts.InviteChannelID,
	}
	if opts.Assignments != nil && opts.ReminderInterval > 0 {
		bot.reminders = newReminderWorker(session, opts.Assignments, opts.ReminderInterval)
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.reminders.start()
	log.Println("Discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	b.reminders.stop()
	return b.session.Close()
}

func boolPtr(v bool) *bool {
	return &v
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:         "amount",
		Description:  "Show how much you owe and your place in line",
		DMPermission: boolPtr(true),
	},
}

// createInvite returns a single-use invite link, or "" when none is configured.
func (b *Bot) createInvite() (string, error) {
	if b.inviteChannelID == "" {
		return "", nil
	}
	inv, err := b.session.ChannelInviteCreate(b.inviteChannelID, discordgo.Invite{
		MaxUses: 1,
		MaxAge:  7 * 24 * 60 * 60,
		Unique:  true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create invite link: %w", err)
	}
	return "https://discord.gg/" + inv.Code, nil
}
