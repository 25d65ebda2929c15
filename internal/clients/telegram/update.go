package telegram

import (
	"strings"
	"unicode/utf16"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

const MaxMessageLength = 4096

const (
	EntityBotCommand = "bot_command"
	EntityURL        = "url"
	EntityTextLink   = "text_link"
	EntityMention    = "mention"
	EntityHashtag    = "hashtag"
)

const (
	ParseModePlain      = ""
	ParseModeHTML       = "HTML"
	ParseModeMarkdown   = "Markdown"
	ParseModeMarkdownV2 = "MarkdownV2"
)

const (
	ActionTyping          = "typing"
	ActionUploadPhoto     = "upload_photo"
	ActionRecordVideo     = "record_video"
	ActionUploadVideo     = "upload_video"
	ActionRecordVoice     = "record_voice"
	ActionUploadVoice     = "upload_voice"
	ActionUploadDocument  = "upload_document"
	ActionChooseSticker   = "choose_sticker"
	ActionFindLocation    = "find_location"
	ActionRecordVideoNote = "record_video_note"
	ActionUploadVideoNote = "upload_video_note"
)

// messageKeys are the update fields carrying a message, in lookup order.
var messageKeys = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

// Update is one record of the update stream, kept as the open mapping the
// API returned so fields added by later API versions pass through untouched.
type Update map[string]any

// ID returns update_id.
func (u Update) ID() int64 {
	return cast.ToInt64(u["update_id"])
}

// Get walks nested objects along path and returns nil when any step is
// missing or not an object.
func (u Update) Get(path ...string) any {
	var current any = map[string]any(u)
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = object[key]
		if !ok || current == nil {
			return nil
		}
	}
	return current
}

func (u Update) String(path ...string) string {
	return cast.ToString(u.Get(path...))
}

func (u Update) Int64(path ...string) int64 {
	return cast.ToInt64(u.Get(path...))
}

// Message returns the message-like object of the update, if any.
func (u Update) Message() map[string]any {
	for _, key := range messageKeys {
		if message, ok := u[key].(map[string]any); ok {
			return message
		}
	}
	if message, ok := u.Get("callback_query", "message").(map[string]any); ok {
		return message
	}
	return nil
}

func (u Update) ChatID() int64 {
	return cast.ToInt64(Update(u.Message()).Get("chat", "id"))
}

func (u Update) MessageID() int64 {
	return cast.ToInt64(u.Message()["message_id"])
}

func (u Update) Text() string {
	return cast.ToString(u.Message()["text"])
}

// SenderID returns the id of the user that sent the message or pressed
// the button.
func (u Update) SenderID() int64 {
	if id := u.Int64("callback_query", "from", "id"); id != 0 {
		return id
	}
	return cast.ToInt64(Update(u.Message()).Get("from", "id"))
}

// Entities returns the distinct substrings of the message text covered by
// entities of the given kind. Entity offsets are in UTF-16 code units.
func (u Update) Entities(kind string) []string {
	message := u.Message()
	text := utf16.Encode([]rune(cast.ToString(message["text"])))
	entities, _ := message["entities"].([]any)

	var result []string
	for _, raw := range entities {
		entity, ok := raw.(map[string]any)
		if !ok || cast.ToString(entity["type"]) != kind {
			continue
		}
		offset, length := cast.ToInt(entity["offset"]), cast.ToInt(entity["length"])
		if offset < 0 || length <= 0 || offset+length > len(text) {
			continue
		}
		result = append(result, string(utf16.Decode(text[offset:offset+length])))
	}

	return lo.Uniq(result)
}

// Command returns the first bot command of the message without the leading
// slash and the "@botname" suffix, or an empty string.
func (u Update) Command() string {
	commands := u.Entities(EntityBotCommand)
	if len(commands) == 0 {
		return ""
	}
	command := strings.TrimPrefix(commands[0], "/")
	command, _, _ = strings.Cut(command, "@")
	return command
}
