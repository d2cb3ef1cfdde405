package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram allows about 30 messages per second across chats.
const (
	broadcastRate  = 25
	broadcastBurst = 30
)

var defaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

func newBroadcastLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(broadcastRate), broadcastBurst)
}

// broadcast sends text to every staff chat except skip.
func (b *Bot) broadcast(ctx context.Context, text string, skip int64) int {
	sent := 0
	for id := range b.staff {
		if id == skip {
			continue
		}
		if err := b.sendWithRetry(ctx, tgbotapi.NewMessage(id, text)); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", id).Msg("Failed to deliver staff message")
			continue
		}
		sent++
	}
	return sent
}

// sendWithRetry paces sends and retries transient failures. A 429 waits for
// the retry_after Telegram asks for; 400 and 403 are final.
func (b *Bot) sendWithRetry(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		_, err := b.tg.Send(c)
		if err == nil {
			return nil
		}
		if attempt >= len(b.retryDelays) {
			return err
		}

		wait := b.retryDelays[attempt]
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusTooManyRequests:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case http.StatusBadRequest, http.StatusForbidden:
				return err
			}
		}
		b.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying telegram send")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
