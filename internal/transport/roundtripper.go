package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingRoundTripper logs every outbound call at debug level
type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.inner.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		l.logger.Debug("backend request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration", duration.String(),
			"error", err,
		)
		return nil, err
	}

	l.logger.Debug("backend request done",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", duration.String(),
	)
	return resp, nil
}
