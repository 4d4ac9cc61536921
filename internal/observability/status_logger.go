package observability

import (
	"context"
	"time"

	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
)

// StatusLogInterval is how often StatusLogger emits a status line (§12's
// "periodic status line", generalizing the teacher's Controller.GetStatus()
// polling cadence in its own status command).
const StatusLogInterval = 30 * time.Second

// StatusLogger periodically logs a caller-supplied status snapshot at info
// level. A nil log is valid: Run becomes a no-op, so a Client built without
// an explicit logger attached doesn't spend a goroutine and a 30s ticker on
// a log line nobody configured a destination for.
type StatusLogger struct {
	log    *logging.Component
	status func() string
}

// NewStatusLogger builds a StatusLogger. status is called fresh on every
// tick so it always reflects the current snapshot.
func NewStatusLogger(log *logging.Component, status func() string) *StatusLogger {
	return &StatusLogger{log: log, status: status}
}

// Run logs the status line every StatusLogInterval until ctx is cancelled.
func (s *StatusLogger) Run(ctx context.Context) {
	if s.log == nil {
		return
	}
	ticker := time.NewTicker(StatusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Printf("status: %s", s.status())
		}
	}
}
