package bot

import (
	"fmt"

	"github.com/maxaizer/microgram/internal/clients/telegram"
)

// HandlerError wraps a failure of the handler for one update.
type HandlerError struct {
	Update   telegram.Update
	Err      error
	Panicked bool
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed on update %d: %v", e.Update.ID(), e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
