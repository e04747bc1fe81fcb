package printapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

const requestIDHeader = "X-Request-ID"

type loggingTransport struct {
	next http.RoundTripper
	log  pslog.Logger
}

func withRequestLogging(next http.RoundTripper, log pslog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next, log: log}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	id := req.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}
	logger := t.log.With("request_id", id)
	res, err := t.next.RoundTrip(req)
	if err != nil {
		logger.Warn("api request failed", "method", req.Method, "path", req.URL.Path, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	logger.Debug("api request", "method", req.Method, "path", req.URL.Path, "status", res.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}
