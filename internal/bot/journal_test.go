package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/logger"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RecordRequests_ShouldWritePostsJournal(t *testing.T) {

	assert := assert.New(t)
	dir := t.TempDir()
	journal, err := logger.NewJournal(dir, "posts")
	require.NoError(t, err)

	hook := RecordRequests(journal)
	hook(telegram.RequestInfo{
		Method:     "sendMessage",
		Params:     map[string]any{"chat_id": int64(1), "text": "hi"},
		StatusCode: 200,
		Elapsed:    120 * time.Millisecond,
		Result:     json.RawMessage(`{"message_id":3}`),
	})
	hook(telegram.RequestInfo{
		Method:     "sendPhoto",
		Params:     map[string]any{"chat_id": int64(1), "photo": "file:photo"},
		StatusCode: 400,
		Err:        errors.New("Bad Request: wrong file"),
	})
	require.NoError(t, journal.Close())

	file, err := os.Open(filepath.Join(dir, "posts.jl"))
	require.NoError(t, err)
	defer file.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)

	assert.Equal("sendMessage", entries[0]["method"])
	assert.Equal(float64(200), entries[0]["status"])
	assert.Equal("hi", entries[0]["request"].(map[string]any)["text"])
	assert.Equal(float64(3), entries[0]["response"].(map[string]any)["message_id"])
	assert.InDelta(0.12, entries[0]["response_time"], 0.001)

	assert.Equal("error", entries[1]["level"])
	assert.Equal("Bad Request: wrong file", entries[1]["error"])
	assert.Equal("file:photo", entries[1]["request"].(map[string]any)["photo"])
}

func Test_RecordRequests_WithoutJournal_ShouldNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRequests(nil)(telegram.RequestInfo{Method: "getMe", StatusCode: 200})
	})
}

func Test_RecordRequests_WhenCallFails_ShouldLogApiError(t *testing.T) {

	assert := assert.New(t)
	hook := test.NewGlobal()
	defer hook.Reset()

	record := RecordRequests(nil)
	record(telegram.RequestInfo{Method: "sendMessage", StatusCode: 403, Err: errors.New("Forbidden")})
	record(telegram.RequestInfo{Method: "getUpdates", Err: errors.New("timeout")})
	record(telegram.RequestInfo{Method: "sendMessage", Err: context.Canceled})

	var apiErrors []*log.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Data[logger.ErrorTypeField] == logger.ErrorTypeTgApi {
			apiErrors = append(apiErrors, entry)
		}
	}
	require.Len(t, apiErrors, 1)
	assert.Equal(log.ErrorLevel, apiErrors[0].Level)
	assert.Equal(403, apiErrors[0].Data["status"])
	assert.Contains(apiErrors[0].Message, "sendMessage")
}
