package scheduler

import (
	"golang.org/x/time/rate"

	logx "pewsched/pkg/logx"
)

// allowWarn throttles warnings per entry name; a task failing every few
// milliseconds must not flood the log.
func (s *Service) allowWarn(name string) bool {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	lim, ok := s.warn[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.FailureWarnEvery), 1)
		s.warn[name] = lim
	}
	return lim.Allow()
}

func (s *Service) reportFailure(e *entry, err error) {
	if err == nil {
		return
	}
	args := append(logFields(e), logx.Err(err), logx.Bool("suppressed", e.kind.Periodic()))
	if !s.allowWarn(e.name) {
		s.log.Debug("task failed", args...)
		return
	}
	if e.kind.Periodic() {
		s.log.Warn("periodic task failed; no further runs", args...)
		return
	}
	s.log.Warn("task failed", args...)
}

func (s *Service) reportDispatchError(e *entry, err error) {
	if err == nil {
		return
	}
	args := append(logFields(e), logx.Err(err))
	if !s.allowWarn(e.name) {
		s.log.Debug("task dispatch failed", args...)
		return
	}
	s.log.Warn("task dispatch failed", args...)
}
