package scheduler

import (
	"fmt"

	"media-fetchd/internal/model"
)

// schedulePumpLocked arranges one asynchronous drain of the pending queue.
// Calls made while a drain is already scheduled are no-ops.
func (s *Scheduler) schedulePumpLocked() {
	if s.pumpScheduled || s.closed {
		return
	}
	s.pumpScheduled = true
	go s.pump()
}

func (s *Scheduler) schedulePump() {
	s.mu.Lock()
	s.schedulePumpLocked()
	s.mu.Unlock()
}

// pump admits queued jobs in FIFO order until MaxConcurrent lifecycles are
// in flight. The pop and the running increment happen under one lock.
func (s *Scheduler) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pumpScheduled = false
	if s.closed {
		return
	}
	for s.running < s.cfg.MaxConcurrent && len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		e, ok := s.jobs[id]
		if !ok || e.job.Status != model.StatusQueued {
			continue
		}
		s.running++
		s.lifecycles.Add(1)
		go s.runLifecycle(e)
	}
	s.metrics.setLoad(s.running, len(s.pending))
}

// runLifecycle wraps runJob so that neither a panic nor an early return can
// leak a running slot or leave the job live.
func (s *Scheduler) runLifecycle(e *entry) {
	defer s.lifecycles.Done()
	defer e.cancel()
	defer func() {
		r := recover()
		s.mu.Lock()
		if r != nil {
			log.Errorw("job lifecycle panicked", "job", e.job.ID, "panic", r)
		}
		if model.IsLive(e.job.Status) {
			msg := "download failed"
			if r != nil {
				msg = fmt.Sprint(r)
			}
			e.job.Error = msg
			s.finishLocked(e, model.StatusFailed)
			s.running--
			s.metrics.setLoad(s.running, len(s.pending))
			s.emitLocked(e)
			s.schedulePump()
			return
		}
		s.running--
		s.metrics.setLoad(s.running, len(s.pending))
		s.schedulePumpLocked()
		s.mu.Unlock()
	}()
	s.runJob(e)
}
