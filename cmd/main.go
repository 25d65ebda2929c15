package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/maxaizer/microgram/internal/bot"
	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/config"
	"github.com/maxaizer/microgram/internal/logger"
	"github.com/maxaizer/microgram/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	pollTimeoutMargin = 10 * time.Second
	greeting          = "Send me anything and I will send it back. Commands: /start, /long, /slow."
)

func openJournals(cfg *config.Config) (updates, posts *logger.Journal) {
	if !cfg.Bot.Journals {
		return nil, nil
	}

	var err error
	if updates, err = logger.NewJournal(cfg.Logger.LogDir, "updates"); err != nil {
		log.Errorf("updates journal disabled: %v", err)
	}
	if posts, err = logger.NewJournal(cfg.Logger.LogDir, "posts"); err != nil {
		log.Errorf("posts journal disabled: %v", err)
	}
	return updates, posts
}

// echo answers every text message in the chat it came from.
func echo(ctx context.Context, b *bot.Bot, typingDelay time.Duration, update telegram.Update) error {

	chatID, text := update.ChatID(), update.Text()
	if chatID == 0 || text == "" {
		return nil
	}

	reply := telegram.Params{"chat_id": chatID, "reply_to_message_id": update.MessageID()}

	var err error
	switch command := update.Command(); command {
	case "start":
		_, err = b.SendMessage(ctx, reply.With(telegram.Params{"text": greeting}))
	case "long":
		_, err = b.SendMessage(ctx, reply.With(telegram.Params{
			"text":       strings.Repeat("<b>long</b> <i>echo</i> ", 600),
			"parse_mode": telegram.ParseModeHTML,
		}))
	case "slow":
		_, err = b.SendMessageTyping(ctx, typingDelay, reply.With(telegram.Params{"text": "done thinking"}))
	case "":
		_, err = b.SendMessage(ctx, reply.With(telegram.Params{"text": text}))
	default:
		_, err = b.SendMessage(ctx, reply.With(telegram.Params{"text": fmt.Sprintf("Unknown command: %s", command)}))
	}
	return err
}

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()

	logger.Setup(ctx, cfg.Logger)
	defer logger.Cleanup()

	if err := botApi.SetLogger(log.StandardLogger()); err != nil {
		log.Fatalf("can't set api logger: %v", err)
	}

	if cfg.Metrics.Enabled {
		metrics.StartMetricsServer(cfg.Metrics.Address)
	}

	updatesJournal, postsJournal := openJournals(cfg)
	defer func() {
		_ = updatesJournal.Close()
		_ = postsJournal.Close()
	}()

	client := telegram.NewClient(cfg.Bot.Token)
	client.SetHTTPClient(&http.Client{Timeout: cfg.Bot.PollTimeout + pollTimeoutMargin})
	client.SetRateLimit(cfg.Bot.MaxRequestsPerSecond)
	client.SetRequestHook(bot.RecordRequests(postsJournal))

	var tgbot *bot.Bot
	tgbot, err := bot.NewBot(client, func(ctx context.Context, update telegram.Update) error {
		return echo(ctx, tgbot, cfg.Bot.TypingDelay, update)
	}, bot.Options{
		PollTimeout:        cfg.Bot.PollTimeout,
		PollLimit:          cfg.Bot.PollLimit,
		PollWait:           cfg.Bot.PollWait,
		MaxPollErrors:      cfg.Bot.MaxPollErrors,
		MessageLimit:       cfg.Bot.MessageLimit,
		ChatActionInterval: cfg.Bot.ChatActionInterval,
		UpdatesJournal:     updatesJournal,
	})
	if err != nil {
		log.Fatalf("can't create bot: %v", err)
	}

	username, err := tgbot.Username(ctx)
	if err != nil {
		log.Fatalf("can't authorize: %v", err)
	}
	log.Infof("Authorized on account %s", username)

	if err = tgbot.Every("@every 1h", "heartbeat", func(context.Context) error {
		log.Infof("still polling, offset %d", tgbot.Offset())
		return nil
	}); err != nil {
		log.Fatalf("can't schedule heartbeat: %v", err)
	}

	if err = tgbot.Run(ctx); err != nil {
		log.Errorf("bot stopped: %v", err)
	}

	log.Info("Services stopped.")
}
