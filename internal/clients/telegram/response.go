package telegram

import (
	"encoding/json"

	"github.com/spf13/cast"
)

// Response is the successful result of one API call.
type Response struct {
	Result      json.RawMessage
	Description string
}

func (r *Response) Decode(v any) error {
	if r == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Map decodes an object result. Non-object results yield nil.
func (r *Response) Map() map[string]any {
	var result map[string]any
	if err := r.Decode(&result); err != nil {
		return nil
	}
	return result
}

// MessageID returns result.message_id, zero when the result is not a message.
func (r *Response) MessageID() int64 {
	return cast.ToInt64(r.Map()["message_id"])
}

// DecodeUpdates decodes the result of getUpdates.
func DecodeUpdates(resp *Response) ([]Update, error) {
	var updates []Update
	if err := resp.Decode(&updates); err != nil {
		return nil, err
	}
	return updates, nil
}
