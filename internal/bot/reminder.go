package bot

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"github.com/susu3304/paycollect/internal/db"
)

// AssignmentLister is what the reminder worker reads each tick.
type AssignmentLister interface {
	ListAssignments(ctx context.Context) ([]db.Assignment, error)
}

// reminderWorker periodically DMs participants who were given an amount but
// have not sent a receipt yet.
type reminderWorker struct {
	assignments AssignmentLister
	session     reminderSession
	stopChan    chan struct{}
	ticker      *time.Ticker
	interval    time.Duration
	now         func() time.Time

	// lastSent is touched only from tick, which runs on the loop goroutine.
	lastSent map[string]time.Time
}

// Minimal session interface for sending direct messages.
type reminderSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func newReminderWorker(session reminderSession, assignments AssignmentLister, interval time.Duration) *reminderWorker {
	return &reminderWorker{
		assignments: assignments,
		session:     session,
		stopChan:    make(chan struct{}),
		interval:    interval,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
}

func (w *reminderWorker) start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

func (w *reminderWorker) stop() {
	if w == nil {
		return
	}
	close(w.stopChan)
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *reminderWorker) loop() {
	ctx := context.Background()
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

// due returns unsubmitted assignments that have been waiting at least one
// interval and were not reminded within the last interval. A tenth of the
// interval is allowed for ticker jitter.
func (w *reminderWorker) due(list []db.Assignment, now time.Time) []db.Assignment {
	cutoff := now.Add(-w.interval)
	again := w.interval - w.interval/10
	return lo.Filter(list, func(a db.Assignment, _ int) bool {
		if a.Submitted() || a.CreatedAt.After(cutoff) {
			return false
		}
		last, ok := w.lastSent[a.ParticipantKey]
		return !ok || now.Sub(last) >= again
	})
}

func (w *reminderWorker) tick(ctx context.Context) {
	list, err := w.assignments.ListAssignments(ctx)
	if err != nil {
		log.Printf("reminder: failed to list assignments: %v", err)
		return
	}

	now := w.now()
	for _, a := range list {
		if a.Submitted() {
			delete(w.lastSent, a.ParticipantKey)
		}
	}
	for _, a := range w.due(list, now) {
		if err := w.remind(ctx, a); err != nil {
			log.Printf("reminder: failed to remind %s: %v", a.ParticipantKey, err)
			continue
		}
		w.lastSent[a.ParticipantKey] = now
	}
}

func (w *reminderWorker) remind(ctx context.Context, a db.Assignment) error {
	ch, err := w.session.UserChannelCreate(a.ParticipantKey, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	msg := reminderMessage(a) + "\n\n" + msgAutomated
	return w.sendWithRetry(ctx, ch.ID, msg)
}

func (w *reminderWorker) sendWithRetry(ctx context.Context, channelID, content string) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := w.session.ChannelMessageSend(channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout()
	}
	return false
}
