package telegram

import (
	"errors"
	"fmt"

	botApi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TransportError is returned by Client.Post for every failed call: network
// failures, undecodable bodies and responses with ok=false.
type TransportError struct {
	Method string
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Code and Description are the remote error_code and description.
	Code            int
	Description     string
	RetryAfter      int
	MigrateToChatID int64
	Err             error
}

func (e *TransportError) Error() string {
	if e.Code != 0 || e.Description != "" {
		return fmt.Sprintf("telegram %s failed: %d %s", e.Method, e.Code, e.Description)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("telegram %s failed with status %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("telegram %s failed: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether the remote API answered with an error payload.
func (e *TransportError) IsRemote() bool {
	return e.Code != 0
}

func newTransportError(method string, status int, err error) *TransportError {
	transportErr := &TransportError{Method: method, StatusCode: status, Err: err}

	var apiErr *botApi.Error
	if errors.As(err, &apiErr) {
		transportErr.Code = apiErr.Code
		transportErr.Description = apiErr.Message
		transportErr.RetryAfter = apiErr.RetryAfter
		transportErr.MigrateToChatID = apiErr.MigrateToChatID
	}

	return transportErr
}
