package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/logger"
	"github.com/maxaizer/microgram/internal/metrics"
	"github.com/maxaizer/microgram/internal/services"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

type apiClient interface {
	Post(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error)
}

// Handler processes one update. A returned error or a panic is reported
// through Options.OnError and never stops the update loop.
type Handler func(ctx context.Context, update telegram.Update) error

type Options struct {
	// PollTimeout is the long poll timeout passed to getUpdates.
	PollTimeout time.Duration
	// PollLimit caps the number of updates per getUpdates call, 1-100.
	PollLimit int
	// PollWait is the pause after a failed getUpdates call.
	PollWait time.Duration
	// MaxPollErrors ends Run after that many consecutive poll failures.
	// Zero keeps polling forever.
	MaxPollErrors int
	// AllowedUpdates limits the update kinds delivered, e.g. "message".
	AllowedUpdates []string
	// MessageLimit is the chunk size used by SendMessage.
	MessageLimit int
	// ChatActionInterval is the period between chat action signals.
	ChatActionInterval time.Duration
	// UpdatesJournal receives every update handed to the handler.
	UpdatesJournal *logger.Journal
	// OnError is called for every failed update. Defaults to logging it.
	OnError func(ctx context.Context, err *HandlerError)
}

func (o *Options) setDefaults() {
	if o.PollTimeout == 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.PollLimit <= 0 || o.PollLimit > 100 {
		o.PollLimit = 100
	}
	if o.PollWait == 0 {
		o.PollWait = 1500 * time.Millisecond
	}
	if o.MessageLimit <= 0 || o.MessageLimit > telegram.MaxMessageLength {
		o.MessageLimit = telegram.MaxMessageLength
	}
	if o.ChatActionInterval <= 0 {
		o.ChatActionInterval = 5 * time.Second
	}
	if o.OnError == nil {
		o.OnError = logHandlerError
	}
}

type Bot struct {
	client    apiClient
	handler   Handler
	opts      Options
	offset    atomic.Int64
	scheduler *services.Scheduler
	cache     *gocache.Cache
}

func NewBot(client apiClient, handler Handler, opts Options) (*Bot, error) {

	if client == nil {
		return nil, errors.New("client is nil")
	}

	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	opts.setDefaults()
	return &Bot{
		client:    client,
		handler:   handler,
		opts:      opts,
		scheduler: services.NewScheduler(),
		cache:     gocache.New(meCacheExpiration, 2*meCacheExpiration),
	}, nil
}

// Offset is the identifier of the next update to request.
func (b *Bot) Offset() int64 {
	return b.offset.Load()
}

// Run polls for updates and hands them to the handler one at a time until
// ctx is cancelled, in which case it returns nil. Scheduled jobs run while
// Run does.
func (b *Bot) Run(ctx context.Context) error {

	b.scheduler.Start(ctx)
	defer b.scheduler.Stop()

	log.Infof("polling for updates, offset %d", b.Offset())
	defer log.Info("update loop stopped")

	failures := 0
	for ctx.Err() == nil {
		updates, err := b.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			log.WithField(logger.ErrorTypeField, logger.ErrorTypePoll).
				Errorf("getUpdates failed (%d in a row): %v", failures, err)
			if b.opts.MaxPollErrors > 0 && failures > b.opts.MaxPollErrors {
				return fmt.Errorf("getUpdates failed %d times in a row: %w", failures, err)
			}
			if !sleep(ctx, b.retryDelay(err)) {
				return nil
			}
			continue
		}

		failures = 0
		for _, update := range updates {
			if ctx.Err() != nil {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}

	return nil
}

func (b *Bot) poll(ctx context.Context) ([]telegram.Update, error) {
	params := telegram.Params{
		"offset":  b.Offset(),
		"timeout": int(b.opts.PollTimeout / time.Second),
		"limit":   b.opts.PollLimit,
	}
	if len(b.opts.AllowedUpdates) > 0 {
		params["allowed_updates"] = b.opts.AllowedUpdates
	}

	resp, err := b.client.Post(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	return telegram.DecodeUpdates(resp)
}

// retryDelay honours the flood-control wait the API asks for.
func (b *Bot) retryDelay(err error) time.Duration {
	var transportErr *telegram.TransportError
	if errors.As(err, &transportErr) && transportErr.RetryAfter > 0 {
		return time.Duration(transportErr.RetryAfter) * time.Second
	}
	return b.opts.PollWait
}

// dispatch advances the offset past the update before handing it over, so
// a failing update is never requested again.
func (b *Bot) dispatch(ctx context.Context, update telegram.Update) {
	if next := update.ID() + 1; next > b.offset.Load() {
		b.offset.Store(next)
	}

	b.opts.UpdatesJournal.Write("update", update)
	metrics.UpdatesCounter.Inc()

	started := time.Now()
	err := b.handle(ctx, update)
	metrics.HandlerDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.HandlerFailuresCounter.Inc()
		b.opts.OnError(ctx, err)
	}
}

func (b *Bot) handle(ctx context.Context, update telegram.Update) (handlerErr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			handlerErr = &HandlerError{Update: update, Err: fmt.Errorf("panic: %v", r), Panicked: true}
		}
	}()

	if err := b.handler(ctx, update); err != nil {
		return &HandlerError{Update: update, Err: err}
	}
	return nil
}

func logHandlerError(_ context.Context, err *HandlerError) {
	log.WithField(logger.ErrorTypeField, logger.ErrorTypeHandler).
		WithField("update_id", err.Update.ID()).
		Error(err)
}

// Schedule runs job once at the given time while the bot is running.
func (b *Bot) Schedule(at time.Time, name string, job services.Job) {
	b.scheduler.At(at, name, job)
}

// Every runs job on a cron spec while the bot is running.
func (b *Bot) Every(spec string, name string, job services.Job) error {
	return b.scheduler.Every(spec, name, job)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
