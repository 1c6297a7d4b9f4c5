package availability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"MedChat/internal/transport"
)

// OfflineNotice is the connectivity error shown while the backend is unreachable
const OfflineNotice = "Không thể kết nối với server. Vui lòng kiểm tra lại."

// Checker is the health probe the monitor runs
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Monitor exposes an advisory online/offline signal. It never gates message
// submission. Until the first check completes the backend is assumed online.
type Monitor struct {
	checker Checker
	logger  *slog.Logger

	mu      sync.RWMutex
	online  bool
	errMsg  string
	lastErr error
	checked time.Time
}

// New creates a monitor
func New(checker Checker, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checker: checker,
		logger:  logger,
		online:  true,
	}
}

// Check runs one health check and updates the signal
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.checker.HealthCheck(ctx)

	m.mu.Lock()
	wasOnline := m.online
	m.checked = time.Now()
	if err != nil {
		m.online = false
		m.errMsg = OfflineNotice
		m.lastErr = err
	} else {
		m.online = true
		m.errMsg = ""
		m.lastErr = nil
	}
	online := m.online
	m.mu.Unlock()

	switch {
	case err != nil:
		m.logger.Warn("backend health check failed", "kind", transport.KindOf(err), "error", err)
	case !wasOnline:
		m.logger.Info("backend is reachable again")
	}
	return online
}

// Run checks once, then every interval until ctx is done. An interval of
// zero or less means a single check.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Online reports the last known reachability
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Error returns the connectivity error for display, or "" when online
func (m *Monitor) Error() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// Err returns the last health check failure, for diagnostics
func (m *Monitor) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// CheckedAt returns when the last check completed
func (m *Monitor) CheckedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checked
}

// DismissError clears the displayed connectivity error without changing the signal
func (m *Monitor) DismissError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = ""
}
