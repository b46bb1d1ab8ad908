package engine

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"pewsched/internal/eventbus"
	logx "pewsched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}
		if qt, ok := s.next(); ok {
			s.execOne(ctx, qt)
			continue
		}

		// Queue is empty: exit once stopping, otherwise park until woken.
		select {
		case <-stopCh:
			if s.queueLen() == 0 {
				return
			}
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			if s.queueLen() == 0 {
				return
			}
		case <-s.wake:
		}
	}
}

func (s *Service) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	t := qt.task
	if t.Claim != nil && !t.Claim() {
		s.skipped.Add(1)
		s.log.Trace("task.skipped", logx.String("task", t.Name), logx.String("id", t.ID))
		if t.Dropped != nil {
			t.Dropped()
		}
		return
	}

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	runID := uuid.NewString()

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: t.ID, RunID: runID, Name: t.Name, Started: start, QueueDelay: queueDelay}})
	}

	var err error
	// A panicking task must not kill the worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				err = &PanicError{Value: r, Stack: stack}
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", stack))
			}
		}()
		err = t.Run(ctx)
	}()

	finish := time.Now()
	dur := finish.Sub(start)
	s.executed.Add(1)
	item := HistoryItem{ID: t.ID, RunID: runID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, RunID: runID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Debug("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: finish, Data: ev})
		}
	} else {
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: finish, Data: ev})
		}
	}
	s.record(item)

	if t.Done != nil {
		t.Done(Result{
			TaskID:     t.ID,
			RunID:      runID,
			Name:       t.Name,
			Enqueued:   qt.enqueuedAt,
			Started:    start,
			Finished:   finish,
			QueueDelay: queueDelay,
			Duration:   dur,
			Err:        err,
		})
	}
}
