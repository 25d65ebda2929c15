package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	params telegram.Params
}

// fakeClient records calls and answers them with respond, or with a bare
// true result when respond is nil.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	respond func(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error)
}

func (f *fakeClient) Post(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, params: params})
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return &telegram.Response{Result: json.RawMessage(`true`)}, nil
	}
	return respond(ctx, method, params)
}

func (f *fakeClient) callsTo(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []call
	for _, c := range f.calls {
		if c.method == method {
			result = append(result, c)
		}
	}
	return result
}

func updatesResponse(ids ...int64) *telegram.Response {
	updates := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, map[string]any{
			"update_id": id,
			"message":   map[string]any{"message_id": id * 10, "chat": map[string]any{"id": 1}, "text": fmt.Sprint(id)},
		})
	}
	result, _ := json.Marshal(updates)
	return &telegram.Response{Result: result}
}

func messageResponse(messageID int64) *telegram.Response {
	return &telegram.Response{Result: json.RawMessage(fmt.Sprintf(`{"message_id":%d}`, messageID))}
}

func newTestBot(t *testing.T, client apiClient, handler Handler, opts Options) *Bot {
	t.Helper()
	if opts.PollWait == 0 {
		opts.PollWait = time.Millisecond
	}
	b, err := NewBot(client, handler, opts)
	require.NoError(t, err)
	return b
}

func runAsync(ctx context.Context, b *Bot) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func Test_NewBot_WhenDependencyMissing_ShouldFail(t *testing.T) {

	_, err := NewBot(nil, func(context.Context, telegram.Update) error { return nil }, Options{})
	assert.Error(t, err)

	_, err = NewBot(&fakeClient{}, nil, Options{})
	assert.Error(t, err)
}

func Test_Run_WhenHandlerFails_ShouldContinueAndAdvanceOffset(t *testing.T) {

	assert := assert.New(t)
	errBoom := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var offsets []any
	client := &fakeClient{}
	client.respond = func(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error) {
		offsets = append(offsets, params["offset"])
		if len(offsets) == 1 {
			return updatesResponse(5, 6, 7), nil
		}
		cancel()
		return nil, ctx.Err()
	}

	var handled []int64
	var failures []*HandlerError
	b := newTestBot(t, client, func(_ context.Context, update telegram.Update) error {
		handled = append(handled, update.ID())
		if update.ID() == 6 {
			return errBoom
		}
		return nil
	}, Options{OnError: func(_ context.Context, err *HandlerError) {
		failures = append(failures, err)
	}})

	err := b.Run(ctx)

	assert.NoError(err)
	assert.Equal([]int64{5, 6, 7}, handled)
	require.Len(t, failures, 1)
	assert.Equal(int64(6), failures[0].Update.ID())
	assert.ErrorIs(failures[0], errBoom)
	assert.False(failures[0].Panicked)
	assert.Equal(int64(8), b.Offset())
	assert.Equal([]any{int64(0), int64(8)}, offsets)
}

func Test_Run_WhenHandlerPanics_ShouldRecover(t *testing.T) {

	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{}
	client.respond = func(ctx context.Context, method string, params telegram.Params) (*telegram.Response, error) {
		if len(client.callsTo("getUpdates")) == 1 {
			return updatesResponse(1, 2), nil
		}
		cancel()
		return nil, ctx.Err()
	}

	var handled []int64
	var failures []*HandlerError
	b := newTestBot(t, client, func(_ context.Context, update telegram.Update) error {
		handled = append(handled, update.ID())
		if update.ID() == 1 {
			panic("nil map")
		}
		return nil
	}, Options{OnError: func(_ context.Context, err *HandlerError) {
		failures = append(failures, err)
	}})

	assert.NotPanics(func() {
		assert.NoError(b.Run(ctx))
	})
	assert.Equal([]int64{1, 2}, handled)
	require.Len(t, failures, 1)
	assert.True(failures[0].Panicked)
	assert.Contains(failures[0].Error(), "nil map")
	assert.Equal(int64(3), b.Offset())
}

func Test_Run_WhenCancelledBetweenUpdates_ShouldStopDispatching(t *testing.T) {

	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{respond: func(context.Context, string, telegram.Params) (*telegram.Response, error) {
		return updatesResponse(10, 11, 12), nil
	}}

	var handled []int64
	b := newTestBot(t, client, func(_ context.Context, update telegram.Update) error {
		handled = append(handled, update.ID())
		cancel()
		return nil
	}, Options{})

	assert.NoError(b.Run(ctx))
	assert.Equal([]int64{10}, handled)
	assert.Equal(int64(11), b.Offset())
}

func Test_Run_WhenCancelledDuringPoll_ShouldAbandonIt(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{respond: func(ctx context.Context, _ string, _ telegram.Params) (*telegram.Response, error) {
		<-ctx.Done()
		return nil, &telegram.TransportError{Method: "getUpdates", Err: ctx.Err()}
	}}
	b := newTestBot(t, client, func(context.Context, telegram.Update) error {
		t.Error("handler must not be called")
		return nil
	}, Options{})

	done := runAsync(ctx, b)
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.NoError(t, waitRun(t, done))
	assert.Zero(t, b.Offset())
}

func Test_Run_WhenPollKeepsFailing_ShouldGiveUpAfterMaxErrors(t *testing.T) {

	assert := assert.New(t)

	client := &fakeClient{respond: func(context.Context, string, telegram.Params) (*telegram.Response, error) {
		return nil, &telegram.TransportError{Method: "getUpdates", StatusCode: 502, Err: errors.New("bad gateway")}
	}}
	b := newTestBot(t, client, func(context.Context, telegram.Update) error { return nil },
		Options{MaxPollErrors: 2})

	err := waitRun(t, runAsync(context.Background(), b))

	require.Error(t, err)
	var transportErr *telegram.TransportError
	assert.True(errors.As(err, &transportErr))
	assert.Len(client.callsTo("getUpdates"), 3)
}

func Test_Run_WhenPollFailsOnce_ShouldRecover(t *testing.T) {

	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{}
	client.respond = func(ctx context.Context, _ string, _ telegram.Params) (*telegram.Response, error) {
		switch len(client.callsTo("getUpdates")) {
		case 1:
			return nil, &telegram.TransportError{Method: "getUpdates", Code: 429, RetryAfter: 0, Err: errors.New("flood")}
		case 2:
			return updatesResponse(3), nil
		default:
			cancel()
			return nil, ctx.Err()
		}
	}

	var handled []int64
	b := newTestBot(t, client, func(_ context.Context, update telegram.Update) error {
		handled = append(handled, update.ID())
		return nil
	}, Options{MaxPollErrors: 1})

	assert.NoError(b.Run(ctx))
	assert.Equal([]int64{3}, handled)
}

func Test_Bot_RetryDelay_ShouldHonourRetryAfter(t *testing.T) {

	b := newTestBot(t, &fakeClient{}, func(context.Context, telegram.Update) error { return nil },
		Options{PollWait: 2 * time.Second})

	assert.Equal(t, 7*time.Second, b.retryDelay(&telegram.TransportError{RetryAfter: 7}))
	assert.Equal(t, 2*time.Second, b.retryDelay(errors.New("network")))
}

func Test_Run_ShouldSendPollParameters(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{respond: func(ctx context.Context, _ string, _ telegram.Params) (*telegram.Response, error) {
		cancel()
		return nil, ctx.Err()
	}}
	b := newTestBot(t, client, func(context.Context, telegram.Update) error { return nil }, Options{
		PollTimeout:    25 * time.Second,
		PollLimit:      10,
		AllowedUpdates: []string{"message"},
	})

	require.NoError(t, b.Run(ctx))

	polls := client.callsTo("getUpdates")
	require.Len(t, polls, 1)
	assert.Equal(t, 25, polls[0].params["timeout"])
	assert.Equal(t, 10, polls[0].params["limit"])
	assert.Equal(t, []string{"message"}, polls[0].params["allowed_updates"])
}

func Test_Run_ShouldWriteUpdatesJournal(t *testing.T) {

	dir := t.TempDir()
	journal, err := logger.NewJournal(dir, "updates")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{}
	client.respond = func(ctx context.Context, _ string, _ telegram.Params) (*telegram.Response, error) {
		if len(client.callsTo("getUpdates")) == 1 {
			return updatesResponse(42), nil
		}
		cancel()
		return nil, ctx.Err()
	}
	b := newTestBot(t, client, func(context.Context, telegram.Update) error { return nil },
		Options{UpdatesJournal: journal})

	require.NoError(t, b.Run(ctx))
	require.NoError(t, journal.Close())

	content, err := os.ReadFile(filepath.Join(dir, "updates.jl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, float64(42), entry["update_id"])
	assert.Equal(t, "update", entry["msg"])
}

func Test_Run_ShouldRunScheduledJobs(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{respond: func(ctx context.Context, _ string, _ telegram.Params) (*telegram.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := newTestBot(t, client, func(context.Context, telegram.Update) error { return nil }, Options{})

	ran := make(chan struct{})
	b.Schedule(time.Now().Add(10*time.Millisecond), "remind", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	done := runAsync(ctx, b)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}
	cancel()
	assert.NoError(t, waitRun(t, done))
}
