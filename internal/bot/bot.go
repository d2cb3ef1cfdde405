package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"movingmen/internal/booking"
	"movingmen/internal/journal"
	"movingmen/internal/models"
	"movingmen/internal/repository"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// IssueTracker lists and resolves journalled writes that need a human.
type IssueTracker interface {
	Unresolved(ctx context.Context) ([]journal.Entry, error)
	Resolve(ctx context.Context, id int64) error
}

// Options configures who may use the bot and how long sessions live.
type Options struct {
	Staff      []int64
	SessionTTL time.Duration
	Debug      bool
}

// Bot is the staff-facing Telegram front end of the booking controller.
type Bot struct {
	tg       telegramClient
	ctrl     *booking.Controller
	sessions repository.SessionRepository
	issues   IssueTracker
	staff    map[int64]struct{}
	loc      *time.Location
	ttl      time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	limiter     *rate.Limiter
	retryDelays []time.Duration
}

func New(
	token string,
	ctrl *booking.Controller,
	sessions repository.SessionRepository,
	issues IssueTracker,
	opts Options,
	logger *zerolog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = opts.Debug
	return newBot(&realTelegramClient{api: api}, ctrl, sessions, issues, opts, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(
	tg telegramClient,
	ctrl *booking.Controller,
	sessions repository.SessionRepository,
	issues IssueTracker,
	opts Options,
	logger *zerolog.Logger,
) (*Bot, error) {
	return newBot(tg, ctrl, sessions, issues, opts, logger)
}

func newBot(
	tg telegramClient,
	ctrl *booking.Controller,
	sessions repository.SessionRepository,
	issues IssueTracker,
	opts Options,
	logger *zerolog.Logger,
) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("booking controller is nil")
	}
	if sessions == nil {
		sessions = repository.NewMemorySessionRepository(opts.SessionTTL)
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	staff := make(map[int64]struct{}, len(opts.Staff))
	for _, id := range opts.Staff {
		staff[id] = struct{}{}
	}
	return &Bot{
		tg:       tg,
		ctrl:     ctrl,
		sessions: sessions,
		issues:   issues,
		staff:    staff,
		loc:      ctrl.Location(),
		ttl:      opts.SessionTTL,
		logger:   logger,
		now:      time.Now,

		limiter:     newBroadcastLimiter(),
		retryDelays: defaultRetryDelays,
	}, nil
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("Bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			updateCtx := l.WithContext(ctx)
			b.handleUpdate(updateCtx, &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) isStaff(userID int64) bool {
	_, ok := b.staff[userID]
	return ok
}

func (b *Bot) today() time.Time {
	return b.now().In(b.loc)
}

// loadSession returns the chat's session, starting a fresh one when it is
// missing, expired or unreadable.
func (b *Bot) loadSession(ctx context.Context, chatID int64) *models.Session {
	s, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Failed to load session")
	}
	if s == nil || s.IsExpired(b.ttl) {
		return models.NewSession(chatID)
	}
	return s
}

func (b *Bot) saveSession(ctx context.Context, s *models.Session) {
	s.UpdatedAt = time.Now()
	if err := b.sessions.Save(ctx, s); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", s.ChatID).Msg("Failed to save session")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	b.send(msg)
}

func (b *Bot) replyError(ctx context.Context, chatID int64, err error) {
	zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("Booking action failed")
	b.reply(chatID, booking.UserMessage(err))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Error().Err(err).Msg("Failed to send telegram message")
	}
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

// splitCommand turns "/search@movers_bot Jane" into ("/search", "Jane").
func splitCommand(text string) (string, string) {
	cmd, arg, _ := strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// parseQuery treats input with at least six digits as a phone number and
// anything else as a name.
func parseQuery(query string) (name, phone string) {
	query = strings.TrimSpace(query)
	if len(models.FilterDigits(query)) >= 6 {
		return "", query
	}
	return query, ""
}
