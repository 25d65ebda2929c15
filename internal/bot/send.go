package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/maxaizer/microgram/internal/chunking"
	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/metrics"
	"github.com/spf13/cast"
)

// ReplyPolicy picks reply_to_message_id for the next chunk from the
// original reply target and the id of the previously sent chunk. Zero means
// no reply.
type ReplyPolicy func(mainID, prevID int64) int64

var (
	// ReplyChaining replies to the target with the first chunk and to the
	// previous chunk with every other one.
	ReplyChaining ReplyPolicy = func(mainID, prevID int64) int64 {
		if prevID != 0 {
			return prevID
		}
		return mainID
	}
	ReplyNone ReplyPolicy = func(_, _ int64) int64 {
		return 0
	}
	ReplyToMain ReplyPolicy = func(mainID, _ int64) int64 {
		return mainID
	}
	ReplyOnlyFirst ReplyPolicy = func(mainID, prevID int64) int64 {
		if prevID != 0 {
			return 0
		}
		return mainID
	}
)

type sendOptions struct {
	reply ReplyPolicy
	limit int
}

type SendOption func(*sendOptions)

func WithReplyPolicy(policy ReplyPolicy) SendOption {
	return func(o *sendOptions) {
		if policy != nil {
			o.reply = policy
		}
	}
}

func WithMessageLimit(limit int) SendOption {
	return func(o *sendOptions) {
		o.limit = limit
	}
}

// SendMessage sends params["text"] with sendMessage, split into chunks that
// fit the message limit and sent in order. The first failed chunk aborts the
// rest and its error is returned. An empty text sends nothing and returns
// nil, nil; otherwise the response to the last chunk is returned.
func (b *Bot) SendMessage(ctx context.Context, params telegram.Params, opts ...SendOption) (*telegram.Response, error) {

	text := params.String("text")
	if text == "" {
		return nil, nil
	}

	o := sendOptions{reply: ReplyChaining, limit: b.opts.MessageLimit}
	for _, opt := range opts {
		opt(&o)
	}

	chunks := chunking.Split(text, params.String("parse_mode"), o.limit)
	mainID := cast.ToInt64(params["reply_to_message_id"])

	var resp *telegram.Response
	var prevID int64
	for i, chunk := range chunks {
		override := telegram.Params{"text": chunk, "reply_to_message_id": nil}
		if replyID := o.reply(mainID, prevID); replyID != 0 {
			override["reply_to_message_id"] = replyID
		}

		var err error
		resp, err = b.client.Post(ctx, "sendMessage", params.With(override))
		if err != nil {
			return nil, fmt.Errorf("send chunk %d of %d: %w", i+1, len(chunks), err)
		}
		metrics.ChunksSentCounter.Inc()
		prevID = resp.MessageID()
	}

	return resp, nil
}

// SendMessageTyping shows the typing action for delay, then sends the
// message while the action is still shown.
func (b *Bot) SendMessageTyping(ctx context.Context, delay time.Duration, params telegram.Params,
	opts ...SendOption) (*telegram.Response, error) {

	var resp *telegram.Response
	err := b.WithChatAction(ctx, cast.ToInt64(params["chat_id"]), telegram.ActionTyping, func(ctx context.Context) error {
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		var err error
		resp, err = b.SendMessage(ctx, params, opts...)
		return err
	})
	return resp, err
}

func (b *Bot) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := b.client.Post(ctx, "sendChatAction", telegram.Params{"chat_id": chatID, "action": action})
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := b.client.Post(ctx, "deleteMessage", telegram.Params{"chat_id": chatID, "message_id": messageID})
	return err
}

// EditMessageText edits a message in place. The text is not chunked.
func (b *Bot) EditMessageText(ctx context.Context, params telegram.Params) (*telegram.Response, error) {
	return b.client.Post(ctx, "editMessageText", params)
}

// Post calls any API method through the bot's client.
func (b *Bot) Post(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error) {
	return b.client.Post(ctx, method, params)
}
