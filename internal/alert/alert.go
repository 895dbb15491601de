package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
	NotifyProof(ctx context.Context, proofURL, caption string) error
}

// NewReference returns a short id that ties a user-facing failure to the
// detailed alert.
func NewReference() string {
	return uuid.NewString()[:8]
}

// Log writes alerts to the process log. Used when no Telegram token is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, text string) error {
	log.Printf("alert: %s", text)
	return nil
}

func (Log) NotifyProof(ctx context.Context, proofURL, caption string) error {
	log.Printf("alert: %s (%s)", caption, proofURL)
	return nil
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a fixed set of chats through a bot.
type Telegram struct {
	bot        sender
	chatIDs    []int64
	maxRetries int
	baseDelay  time.Duration
}

func NewTelegram(token string, chatIDs []int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatIDs: chatIDs, maxRetries: 5, baseDelay: time.Second}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, id := range t.chatIDs {
		// Plain text: alerts carry raw error strings.
		msg := tgbotapi.NewMessage(id, text)
		if err := t.send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) NotifyProof(ctx context.Context, proofURL, caption string) error {
	var errs []error
	for _, id := range t.chatIDs {
		photo := tgbotapi.NewPhoto(id, tgbotapi.FileURL(proofURL))
		photo.Caption = caption
		if err := t.send(ctx, photo); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// send retries with a delay growing by half each attempt.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		_, err := t.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if attempt == t.maxRetries {
			break
		}
		delay := time.Duration(float64(t.baseDelay) * math.Pow(1.5, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("max retries reached: %w", lastErr)
}

// retryable reports whether err may clear on its own. Telegram API errors in
// the 4xx range other than 429 will fail the same way again.
func retryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}
