package scheduler

import (
	"time"

	"feedgrid/pkg/logx"
)

const failureWarnThrottle = 5 * time.Minute

// reportFailure forwards err to the error handler on every cycle but logs at
// warn at most once per throttle window per name; repeats go to debug.
func (s *Scheduler) reportFailure(name string, dur time.Duration, err error) {
	if s.onError != nil {
		s.onError(name, err)
	}

	now := s.clock.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	throttled := !last.IsZero() && now.Sub(last) < failureWarnThrottle
	if !throttled {
		s.lastWarn[name] = now
	}
	s.warnMu.Unlock()

	fields := []logx.Field{logx.String("task", name), logx.Duration("dur", dur), logx.Err(err)}
	if throttled {
		s.log.Debug("refresh failed", fields...)
		return
	}
	s.log.Warn("refresh failed", fields...)
}
