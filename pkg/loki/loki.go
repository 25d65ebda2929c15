package loki

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Logger receives the pusher's own failures. It must not feed entries back
// into the pusher.
type Logger interface {
	Error(msg string, args ...any)
}

type Config struct {

	// Url of the loki push endpoint, e.g. https://example-prod.grafana.net/loki/api/v1/push
	Url string `validate:"required,url"`

	// TenantKey and TenantValue set a tenant header for multi-tenant setups.
	// The header is omitted when TenantKey is empty.
	TenantKey   string
	TenantValue string

	// BatchMaxSize is the maximum number of log lines sent in one request.
	BatchMaxSize int `validate:"gte=1"`

	// BatchMaxWait is the maximum time an entry waits before being sent.
	BatchMaxWait time.Duration `validate:"gte=1"`

	// BufferSize is how many entries may queue up before Push starts
	// dropping them.
	BufferSize int `validate:"gte=1"`

	// Labels are attached to the stream.
	Labels map[string]string

	// Username and Password enable basic authentication when both are set.
	Username string
	Password string
}

func (cfg *Config) setDefaults() {
	if cfg.BatchMaxSize == 0 {
		cfg.BatchMaxSize = 1000
	}
	if cfg.BatchMaxWait == 0 {
		cfg.BatchMaxWait = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}
}

type LogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Caller  string         `json:"caller,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"-"`
}

// Pusher batches entries and ships them to Loki from a single goroutine.
type Pusher struct {
	config    *Config
	ctx       context.Context
	cancel    context.CancelFunc
	client    *http.Client
	quit      chan struct{}
	stopOnce  sync.Once
	entries   chan LogEntry
	waitGroup sync.WaitGroup
	batch     []streamValue
	logger    Logger
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values []streamValue     `json:"values"`
}

type streamValue []string

func New(ctx context.Context, cfg Config, logger Logger) (*Pusher, error) {

	cfg.setDefaults()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid loki config")
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pusher{
		config:  &cfg,
		ctx:     ctx,
		cancel:  cancel,
		client:  &http.Client{Timeout: 10 * time.Second},
		quit:    make(chan struct{}),
		entries: make(chan LogEntry, cfg.BufferSize),
		batch:   make([]streamValue, 0, cfg.BatchMaxSize),
		logger:  logger,
	}

	p.waitGroup.Add(1)
	go p.run()
	return p, nil
}

// Push queues the entry. It never blocks; entries are dropped while the
// buffer is full.
func (p *Pusher) Push(e LogEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case p.entries <- e:
		return nil
	default:
		return errors.New("loki buffer is full, entry dropped")
	}
}

// Stop flushes queued entries and stops the pusher.
func (p *Pusher) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.waitGroup.Wait()
		p.cancel()
	})
}

func (p *Pusher) run() {
	defer p.waitGroup.Done()

	ticker := time.NewTicker(p.config.BatchMaxWait)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.quit:
			p.drain()
			p.flush()
			return
		case entry := <-p.entries:
			p.add(entry)
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *Pusher) drain() {
	for {
		select {
		case entry := <-p.entries:
			p.add(entry)
		default:
			return
		}
	}
}

func (p *Pusher) add(entry LogEntry) {
	value, err := newStreamValue(entry)
	if err != nil {
		p.logger.Error("failed to encode log entry", "error", err)
		return
	}
	p.batch = append(p.batch, value)
	if len(p.batch) >= p.config.BatchMaxSize {
		p.flush()
	}
}

func (p *Pusher) flush() {
	if len(p.batch) == 0 {
		return
	}
	if err := p.send(p.batch); err != nil {
		p.logger.Error("failed to send logs to loki", "error", err, "lines", len(p.batch))
	}
	p.batch = p.batch[:0]
}

func newStreamValue(entry LogEntry) (streamValue, error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return streamValue{strconv.FormatInt(entry.Time.UnixNano(), 10), string(line)}, nil
}

func (p *Pusher) send(values []streamValue) error {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)

	err := json.NewEncoder(gz).Encode(pushRequest{Streams: []stream{{
		Stream: p.config.Labels,
		Values: values,
	}}})
	if err != nil {
		return errors.Wrap(err, "encode push request")
	}
	if err = gz.Close(); err != nil {
		return errors.Wrap(err, "compress push request")
	}

	// the run context may be cancelled while the last batch is flushed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Url, buf)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if p.config.TenantKey != "" {
		req.Header.Set(p.config.TenantKey, p.config.TenantValue)
	}
	if p.config.Username != "" && p.config.Password != "" {
		req.SetBasicAuth(p.config.Username, p.config.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("unexpected response from loki: %s, body: %s", resp.Status, string(body))
	}

	return nil
}
