// Package chunking splits outbound message texts into pieces that fit the
// Bot API message length limit.
package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maxaizer/microgram/internal/clients/telegram"
)

// Split returns the ordered chunks of text for the given parse mode. Each
// chunk has at most limit runes; limit <= 0 means telegram.MaxMessageLength.
// Only HTML is split markup-aware, Markdown modes are split as plain text.
func Split(text string, parseMode string, limit int) []string {
	if limit <= 0 {
		limit = telegram.MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	if strings.EqualFold(parseMode, telegram.ParseModeHTML) {
		return SplitHTML(text, limit)
	}
	return SplitPlain(text, limit)
}

// SplitPlain cuts at the last newline that fits, then at the last
// whitespace, then anywhere. The whitespace a cut happens at is dropped.
func SplitPlain(text string, limit int) []string {
	if limit <= 0 {
		limit = telegram.MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut, skip := plainCut(runes, limit)
		if chunk := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = trimLeftSpace(runes[cut+skip:])
	}
	if rest := strings.TrimRightFunc(string(runes), unicode.IsSpace); rest != "" {
		chunks = append(chunks, rest)
	}

	return chunks
}

func plainCut(runes []rune, limit int) (cut int, skip int) {
	newline, space := -1, -1
	for i := 0; i <= limit && i < len(runes); i++ {
		switch {
		case runes[i] == '\n':
			newline = i
		case unicode.IsSpace(runes[i]):
			space = i
		}
	}

	switch {
	case newline > 0:
		return newline, 1
	case space > 0:
		return space, 1
	default:
		return limit, 0
	}
}

func trimLeftSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}
