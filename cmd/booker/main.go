package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"movingmen/internal/booking"
	"movingmen/internal/bot"
	"movingmen/internal/config"
	"movingmen/internal/events"
	"movingmen/internal/google"
	"movingmen/internal/journal"
	"movingmen/internal/metrics"
	"movingmen/internal/models"
	"movingmen/internal/repository"
	"movingmen/internal/slots"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("MOVINGMEN_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}
	if len(cfg.Telegram.Staff) == 0 {
		logger.Warn().Msg("telegram.staff is empty, nobody can use the bot")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("load timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := google.ClientOptions(ctx, cfg.Google.CredentialsFile, cfg.Google.CredentialsJSON)
	if err != nil {
		logger.Fatal().Err(err).Msg("load google credentials")
	}
	limiter := google.NewLimiter(cfg.Google.RequestsPerSecond)

	sheetsLogger := logger.With().Str("component", "sheets").Logger()
	sheets, err := google.NewSheetsService(ctx, cfg.Google.SpreadsheetID, cfg.Google.SheetName, loc, limiter, &sheetsLogger, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create sheets client")
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Fatal().Err(err).Msg("prepare bookings sheet")
	}

	calendarLogger := logger.With().Str("component", "calendar").Logger()
	calendar, err := google.NewCalendarService(ctx, cfg.Google.CalendarID, loc, limiter, &calendarLogger, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create calendar client")
	}

	jdb, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open journal")
	}
	defer jdb.Close()

	bus := events.NewEventBus(&logger)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.SubscribeBookingEvents(bus, map[string]string{
			booking.EventBookingCreated:   "create",
			booking.EventBookingRebooked:  "rebook",
			booking.EventBookingCancelled: "cancel",
		})
	}

	schedule := slots.ScheduleInfo{
		OpenHour:  cfg.Business.OpenHour,
		CloseHour: cfg.Business.CloseHour,
		Block:     models.BlockDuration,
	}
	generator := slots.NewGenerator(calendar, schedule, loc)

	controllerLogger := logger.With().Str("component", "booking").Logger()
	ctrl := booking.NewController(sheets, calendar, generator, jdb, bus, &controllerLogger)
	if err := ctrl.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("read bookings sheet")
	}

	memSessions := repository.NewMemorySessionRepository(cfg.SessionTTL())
	var sessions repository.SessionRepository = memSessions
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		sessionLogger := logger.With().Str("component", "sessions").Logger()
		sessions = repository.NewFailoverSessionRepository(
			repository.NewRedisSessionRepository(rdb, cfg.SessionTTL()),
			memSessions,
			&sessionLogger,
		)
	}
	go cleanupSessions(ctx, memSessions, cfg.SessionTTL(), &logger)

	botLogger := logger.With().Str("component", "bot").Logger()
	b, err := bot.New(cfg.Telegram.BotToken, ctrl, sessions, jdb, bot.Options{
		Staff:      cfg.Telegram.Staff,
		SessionTTL: cfg.SessionTTL(),
		Debug:      cfg.Telegram.Debug,
	}, &botLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}
	b.SubscribeNotifications(bus)
	if cfg.Reminders.Enabled {
		b.StartReminders(ctx, cfg.Reminders.Hour)
	}

	backupLogger := logger.With().Str("component", "backup").Logger()
	go journal.NewBackupService(jdb, cfg.Backup, &backupLogger).Start(ctx)

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, jdb, rdb, &logger)
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}
	if cfg.Monitoring.GRPCHealthPort != 0 {
		go startGRPCHealthServer(ctx, cfg.Monitoring.GRPCHealthPort, jdb, &logger)
	}

	logger.Info().Str("timezone", loc.String()).Msg("Booking bot started")
	b.Start(ctx)
	logger.Info().Msg("Booking bot stopped")
}

func cleanupSessions(ctx context.Context, repo *repository.MemorySessionRepository, ttl time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := repo.Cleanup(); n > 0 {
				logger.Debug().Int("removed", n).Msg("Expired sessions removed")
			}
		}
	}
}
