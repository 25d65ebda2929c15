package bot

import (
	"context"
	"sync"
	"time"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/logger"
	log "github.com/sirupsen/logrus"
)

const cleanupTimeout = 10 * time.Second

type chatActionOptions struct {
	interval    time.Duration
	waitingText string
}

type ChatActionOption func(*chatActionOptions)

// WaitingText posts a silent placeholder message for the duration of the
// action and deletes it afterwards.
func WaitingText(text string) ChatActionOption {
	return func(o *chatActionOptions) {
		o.waitingText = text
	}
}

func WithInterval(interval time.Duration) ChatActionOption {
	return func(o *chatActionOptions) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// ChatAction keeps a chat action such as "typing" visible until Stop.
type ChatAction struct {
	bot           *Bot
	ctx           context.Context
	chatID        int64
	placeholderID int64
	cancel        context.CancelFunc
	done          chan struct{}
	once          sync.Once
}

// StartChatAction sends the action once before returning and then repeats
// it every interval in the background. Failed signals are logged and
// otherwise ignored.
func (b *Bot) StartChatAction(ctx context.Context, chatID int64, action string, opts ...ChatActionOption) *ChatAction {

	o := chatActionOptions{interval: b.opts.ChatActionInterval}
	for _, opt := range opts {
		opt(&o)
	}

	a := &ChatAction{bot: b, ctx: ctx, chatID: chatID, done: make(chan struct{})}

	if o.waitingText != "" {
		resp, err := b.SendMessage(ctx, telegram.Params{
			"chat_id":              chatID,
			"text":                 o.waitingText,
			"disable_notification": true,
		})
		if err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeChatAction).
				Errorf("failed to post waiting message to chat %d: %v", chatID, err)
		} else {
			a.placeholderID = resp.MessageID()
		}
	}

	a.signal(ctx, action)

	var refreshCtx context.Context
	refreshCtx, a.cancel = context.WithCancel(ctx)
	go a.refresh(refreshCtx, action, o.interval)

	return a
}

// Stop ends the action. No signal is sent once Stop has returned. It is
// safe to call more than once.
func (a *ChatAction) Stop() {
	a.once.Do(func() {
		a.cancel()
		<-a.done

		if a.placeholderID == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), cleanupTimeout)
		defer cancel()
		if err := a.bot.DeleteMessage(ctx, a.chatID, a.placeholderID); err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeChatAction).
				Errorf("failed to delete waiting message %d in chat %d: %v", a.placeholderID, a.chatID, err)
		}
	})
}

func (a *ChatAction) refresh(ctx context.Context, action string, interval time.Duration) {
	defer close(a.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			a.signal(ctx, action)
		}
	}
}

func (a *ChatAction) signal(ctx context.Context, action string) {
	err := a.bot.SendChatAction(ctx, a.chatID, action)
	if err != nil && ctx.Err() == nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeChatAction).
			Errorf("failed to send %s action to chat %d: %v", action, a.chatID, err)
	}
}

// WithChatAction runs fn while the action is shown. The action stops when
// fn returns or panics.
func (b *Bot) WithChatAction(ctx context.Context, chatID int64, action string, fn func(ctx context.Context) error,
	opts ...ChatActionOption) error {

	a := b.StartChatAction(ctx, chatID, action, opts...)
	defer a.Stop()

	return fn(ctx)
}
