package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	pkgErrors "github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultTimeout = 90 * time.Second

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestInfo describes one finished API call.
type RequestInfo struct {
	Method     string
	Params     map[string]any
	StatusCode int
	Elapsed    time.Duration
	Result     json.RawMessage
	Err        error
}

// Client forwards Bot API calls with the bot token attached. It performs no
// retries; that policy belongs to the caller.
type Client struct {
	token       string
	endpoint    string
	httpClient  HTTPClient
	rateLimiter *rate.Limiter
	hook        func(RequestInfo)
}

func NewClient(token string) *Client {
	return &Client{
		token:      token,
		endpoint:   botApi.APIEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) SetHTTPClient(client HTTPClient) {
	c.httpClient = client
}

// SetAPIEndpoint sets the URL format used for calls, with the token and the
// method name as its two verbs, e.g. "https://api.telegram.org/bot%s/%s".
func (c *Client) SetAPIEndpoint(endpoint string) {
	c.endpoint = endpoint
}

func (c *Client) SetRateLimit(maxRequestsPerSecond float32) {
	if maxRequestsPerSecond <= 0 {
		c.rateLimiter = nil
		return
	}
	c.rateLimiter = rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 1)
}

// SetRequestHook registers a callback invoked after every call.
func (c *Client) SetRequestHook(hook func(RequestInfo)) {
	c.hook = hook
}

// Post calls the API method with params and returns the decoded result.
// Any failure is reported as *TransportError.
func (c *Client) Post(ctx context.Context, method string, params Params) (*Response, error) {
	started := time.Now()
	resp, status, err := c.post(ctx, method, params)

	if c.hook != nil {
		info := RequestInfo{
			Method:     method,
			Params:     params.loggable(),
			StatusCode: status,
			Elapsed:    time.Since(started),
			Err:        err,
		}
		if resp != nil {
			info.Result = resp.Result
		}
		c.hook(info)
	}

	return resp, err
}

func (c *Client) post(ctx context.Context, method string, params Params) (*Response, int, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, 0, newTransportError(method, 0, err)
		}
	}

	values, files, err := params.encode()
	if err != nil {
		return nil, 0, newTransportError(method, 0, pkgErrors.Wrap(err, "encode params"))
	}

	doer := &contextDoer{ctx: ctx, client: c.httpClient}
	api := &botApi.BotAPI{Token: c.token, Client: doer}
	api.SetAPIEndpoint(c.endpoint)

	var apiResp *botApi.APIResponse
	if len(files) > 0 {
		apiResp, err = api.UploadFiles(method, values, files)
	} else {
		apiResp, err = api.MakeRequest(method, values)
	}

	if err != nil {
		return nil, doer.status, newTransportError(method, doer.status, c.redact(err))
	}
	if doer.status != http.StatusOK {
		return nil, doer.status, newTransportError(method, doer.status,
			fmt.Errorf("unexpected status %d", doer.status))
	}

	return &Response{Result: apiResp.Result, Description: apiResp.Description}, doer.status, nil
}

// redact removes the token from URLs embedded in network errors.
func (c *Client) redact(err error) error {
	var urlErr *url.Error
	if c.token != "" && errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, c.token, "<token>")
	}
	return err
}

// contextDoer binds one call's context to the request and remembers the
// response status.
type contextDoer struct {
	ctx    context.Context
	client HTTPClient
	status int
}

func (d *contextDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req.WithContext(d.ctx))
	if resp != nil {
		d.status = resp.StatusCode
	}
	return resp, err
}
