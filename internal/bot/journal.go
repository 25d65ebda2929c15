package bot

import (
	"context"
	"errors"

	"github.com/maxaizer/microgram/internal/clients/telegram"
	"github.com/maxaizer/microgram/internal/logger"
	"github.com/maxaizer/microgram/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// RecordRequests returns a client request hook that feeds the request
// metrics and writes every call to the posts journal.
func RecordRequests(journal *logger.Journal) func(telegram.RequestInfo) {
	return func(info telegram.RequestInfo) {
		metrics.ObserveRequest(info.Method, info.StatusCode, info.Elapsed)

		fields := map[string]any{
			"method":        info.Method,
			"status":        info.StatusCode,
			"request":       info.Params,
			"response_time": info.Elapsed.Seconds(),
		}
		if info.Err != nil {
			fields["error"] = info.Err.Error()
			journal.WriteError(info.Method, fields)
			logRequestError(info)
			return
		}

		fields["response"] = info.Result
		journal.Write(info.Method, fields)
	}
}

// logRequestError reports failed calls under the tg_api error type. Poll
// failures are reported by the update loop and cancelled calls are expected
// on shutdown.
func logRequestError(info telegram.RequestInfo) {
	if info.Method == "getUpdates" || errors.Is(info.Err, context.Canceled) {
		log.Debugf("%s failed in %v: %v", info.Method, info.Elapsed, info.Err)
		return
	}
	log.WithField(logger.ErrorTypeField, logger.ErrorTypeTgApi).
		WithField("status", info.StatusCode).
		Errorf("%s failed: %v", info.Method, info.Err)
}
