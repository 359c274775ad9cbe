// Package refresh drives periodic polling of the host and process table.
//
// A Loop owns the user's row selection. While a row is selected the loop is
// Paused: snapshots keep flowing but the process table is not replaced, and
// each cycle only checks that the selected pid is still alive. When it is
// gone the selection is dropped and a fresh table is delivered.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/Dicklesworthstone/pcinfo/internal/model"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 5 * time.Second

// ErrInvalidInterval is returned for non-positive polling intervals.
var ErrInvalidInterval = errors.New("interval must be positive")

// Source produces the data a Loop publishes.
type Source interface {
	Snapshot(ctx context.Context) (model.SystemSnapshot, error)
	Processes(ctx context.Context) ([]model.ProcessRow, error)
	Alive(ctx context.Context, pid int32) (bool, error)
}

// State is the loop's polling mode.
type State int

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

// Update is one poll result handed to the display.
type Update struct {
	At       time.Time
	Snapshot *model.SystemSnapshot

	// Processes is valid only when Replaced is true.
	Processes []model.ProcessRow
	Replaced  bool

	// Resumed is set when the selected pid vanished and the selection was
	// cleared by the loop.
	Resumed bool
	// Manual is set for polls requested through RefreshNow.
	Manual bool

	Err error
}

// Loop polls a Source on a timer.
type Loop struct {
	src   Source
	clock clock.Clock

	mu       sync.Mutex
	interval time.Duration
	sel      model.SelectionState
	lastPoll time.Time

	updates   chan Update
	refreshCh chan struct{}
	rearmCh   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }

// New returns a Loop polling src every interval. A non-positive interval
// falls back to DefaultInterval.
func New(src Source, interval time.Duration, opts ...Option) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		src:       src,
		clock:     clock.RealClock{},
		interval:  interval,
		updates:   make(chan Update, 1),
		refreshCh: make(chan struct{}, 1),
		rearmCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Updates delivers poll results. It is closed when Run returns.
func (l *Loop) Updates() <-chan Update { return l.updates }

// Interval returns the current polling period.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetInterval changes the polling period. The next periodic poll happens
// no sooner than d after the previous one.
func (l *Loop) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("set interval %s: %w", d, ErrInvalidInterval)
	}
	l.mu.Lock()
	changed := l.interval != d
	l.interval = d
	l.mu.Unlock()

	if changed {
		klog.Infof("update interval set to %s", d)
		notify(l.rearmCh)
	}
	return nil
}

// Select marks pid as selected and pauses table replacement.
func (l *Loop) Select(pid int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sel = model.SelectionState{Selected: true, PID: pid}
}

// ClearSelection resumes table replacement from the next cycle.
func (l *Loop) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sel = model.SelectionState{}
}

// Selection returns the current selection.
func (l *Loop) Selection() model.SelectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sel
}

// State reports whether the loop is replacing the process table.
func (l *Loop) State() State {
	if l.Selection().Selected {
		return Paused
	}
	return Running
}

// RefreshNow clears any selection and polls as soon as the loop is idle.
func (l *Loop) RefreshNow() {
	notify(l.refreshCh)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// clearIf drops the selection only if it still holds pid.
func (l *Loop) clearIf(pid int32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sel.Selected || l.sel.PID != pid {
		return false
	}
	l.sel = model.SelectionState{}
	return true
}

// untilNext returns how long to wait before the next periodic poll.
func (l *Loop) untilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval - l.clock.Since(l.lastPoll)
}

// Run polls once immediately and then every interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.updates)

	if !l.publish(ctx, l.poll(ctx, false)) {
		return ctx.Err()
	}

	timer := l.clock.NewTimer(l.untilNext())
	defer timer.Stop()

	for {
		var u Update
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C():
			if wait := l.untilNext(); wait > 0 {
				timer.Reset(wait)
				continue
			}
			u = l.poll(ctx, false)

		case <-l.rearmCh:
			stopTimer(timer)
			if wait := l.untilNext(); wait > 0 {
				timer.Reset(wait)
				continue
			}
			u = l.poll(ctx, false)

		case <-l.refreshCh:
			stopTimer(timer)
			l.ClearSelection()
			u = l.poll(ctx, true)
		}

		if !l.publish(ctx, u) {
			return ctx.Err()
		}
		timer.Reset(l.untilNext())
	}
}

func stopTimer(t clock.Timer) {
	if !t.Stop() {
		select {
		case <-t.C():
		default:
		}
	}
}

func (l *Loop) publish(ctx context.Context, u Update) bool {
	select {
	case l.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// poll produces one Update. The snapshot is always taken; the process table
// only when no row is selected or the selected pid has exited.
func (l *Loop) poll(ctx context.Context, manual bool) Update {
	now := l.clock.Now()
	l.mu.Lock()
	l.lastPoll = now
	l.mu.Unlock()

	u := Update{At: now, Manual: manual}

	snap, err := l.src.Snapshot(ctx)
	if err != nil {
		klog.Errorf("snapshot: %v", err)
		u.Err = err
	}
	u.Snapshot = &snap

	if sel := l.Selection(); sel.Selected {
		alive, err := l.src.Alive(ctx, sel.PID)
		if err != nil {
			klog.Errorf("liveness of pid %d: %v", sel.PID, err)
			u.Err = errors.Join(u.Err, err)
			return u
		}
		if alive || !l.clearIf(sel.PID) {
			klog.V(2).Infof("pid %d selected, table update skipped", sel.PID)
			return u
		}
		klog.Infof("selected pid %d exited, resuming updates", sel.PID)
		u.Resumed = true
	}

	rows, err := l.src.Processes(ctx)
	if err != nil {
		klog.Errorf("processes: %v", err)
		u.Err = errors.Join(u.Err, err)
		return u
	}
	u.Processes = rows
	u.Replaced = true
	klog.V(2).Infof("polled %d processes", len(rows))
	return u
}
