package scheduler

import (
	"time"

	logx "pubmatrix/pkg/logx"
)

const failWarnThrottle = 30 * time.Second

// reportFailure logs a failed run at warn, at most once per throttle window
// per trigger; repeats go to debug so a tick failing every minute does not
// flood the log.
func (s *Service) reportFailure(name string, err error) {
	now := time.Now()
	s.failMu.Lock()
	last := s.lastFail[name]
	loud := last.IsZero() || now.Sub(last) >= failWarnThrottle
	if loud {
		s.lastFail[name] = now
	}
	s.failMu.Unlock()

	if loud {
		s.log.Warn("trigger.failed", logx.String("name", name), logx.Err(err))
		return
	}
	s.log.Debug("trigger.failed", logx.String("name", name), logx.Err(err))
}
