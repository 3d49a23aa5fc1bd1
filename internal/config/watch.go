package config

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"feedgrid/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// fileOps are the events that may change the file's content. Editors that
// save by rename show up as Create or Rename on the directory.
const fileOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file after changes settle, until ctx is done. It
// watches the parent directory and recreates a broken watcher with jittered
// backoff. It returns nil on cancellation.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{wait: m.debounce, fn: func() { m.reload(ctx) }}
	defer deb.stop()
	retry := retryDelay{min: watchRetryMin, max: watchRetryMax, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, deb, retry.reset)
		if ctx.Err() != nil {
			return nil
		}
		d := retry.next()
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("backoff", d), logx.Err(err))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	return nil
}

// watchOnce runs one watcher until it breaks. healthy is called once the
// watcher is registered.
func (m *Manager) watchOnce(ctx context.Context, dir, file string, deb *debouncer, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watch events closed")
			}
			if ev.Op&fileOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				deb.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("watch errors closed")
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow", logx.Err(err))
				deb.trigger()
			case errors.Is(err, fsnotify.ErrClosed):
				return err
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once triggers stop arriving for wait.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// retryDelay doubles from min to max and adds up to 50% jitter.
type retryDelay struct {
	min, max time.Duration
	cur      time.Duration
	rng      *rand.Rand
}

func (r *retryDelay) reset() { r.cur = 0 }

func (r *retryDelay) next() time.Duration {
	if r.cur == 0 {
		r.cur = r.min
	} else {
		r.cur = min(r.cur*2, r.max)
	}
	return r.cur + time.Duration(r.rng.Int63n(int64(r.cur/2)+1))
}
