package app

import (
	"context"
	"time"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/storage"
	"feedgrid/internal/task"
	"feedgrid/pkg/logx"
)

// persistRuns journals finished and failed runs to storage.
func (a *App) persistRuns(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(256, task.EventFinished, task.EventFailed)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(task.Event)
			if !ok {
				continue
			}
			run := storage.Run{
				At:       ev.Started,
				Task:     ev.Name,
				Trigger:  string(ev.Trigger),
				Batch:    ev.Batch,
				Duration: ev.Duration,
				OK:       e.Type == task.EventFinished,
				Error:    ev.Error,
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			err := a.store.AppendRun(wctx, run)
			cancel()
			if err != nil {
				a.log.Warn("run journal write failed", logx.String("task", ev.Name), logx.Err(err))
			}
		}
	}
}

// logEvents mirrors bus traffic at trace level.
func (a *App) logEvents(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if a.log.Enabled(logx.LevelTrace) {
				logEvent(a.log, e)
			}
		}
	}
}

func logEvent(log logx.Logger, e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type)}
	switch ev := e.Data.(type) {
	case task.Event:
		fields = append(fields, logx.String("task", ev.Name), logx.String("trigger", string(ev.Trigger)))
		if ev.Reason != "" {
			fields = append(fields, logx.String("reason", string(ev.Reason)))
		}
	case task.BatchEvent:
		fields = append(fields, logx.String("batch", ev.Batch), logx.Int("failed", ev.Failed))
	}
	log.Trace("event", fields...)
}
