// Package procctl terminates processes with a grace period and refuses to
// touch a fixed set of critical system processes.
package procctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

var (
	ErrInvalidPID   = errors.New("invalid pid")
	ErrProtected    = errors.New("process is protected")
	ErrNotFound     = errors.New("process not found")
	ErrAccessDenied = errors.New("access denied")
)

// DefaultProtected lists process names that are never signalled.
var DefaultProtected = []string{
	"System", "Registry", "csrss.exe", "winlogon.exe", "services.exe",
	"lsass.exe", "svchost.exe", "smss.exe", "wininit.exe",
	"init", "systemd", "kthreadd", "launchd", "kernel_task",
}

const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Outcome says how a process ended.
type Outcome int

const (
	// Terminated means the process exited within the grace period.
	Terminated Outcome = iota + 1
	// Killed means the process had to be force-killed.
	Killed
)

func (o Outcome) String() string {
	switch o {
	case Terminated:
		return "terminated"
	case Killed:
		return "force killed"
	}
	return "unknown"
}

// Result describes a completed termination.
type Result struct {
	PID     int32
	Name    string
	Outcome Outcome
}

// Handle is the subset of *process.Process the terminator needs.
type Handle interface {
	NameWithContext(ctx context.Context) (string, error)
	TerminateWithContext(ctx context.Context) error
	KillWithContext(ctx context.Context) error
	IsRunningWithContext(ctx context.Context) (bool, error)
}

// LookupFunc resolves a pid to a Handle.
type LookupFunc func(ctx context.Context, pid int32) (Handle, error)

func lookupProcess(ctx context.Context, pid int32) (Handle, error) {
	return process.NewProcessWithContext(ctx, pid)
}

// Terminator ends processes: graceful signal first, force kill after
// GracePeriod.
type Terminator struct {
	GracePeriod  time.Duration
	PollInterval time.Duration

	clock     clock.Clock
	lookup    LookupFunc
	protected map[string]struct{}
	self      int32
}

// Option configures a Terminator.
type Option func(*Terminator)

// WithClock replaces the wall clock used for the grace period.
func WithClock(c clock.Clock) Option { return func(t *Terminator) { t.clock = c } }

// WithLookup replaces the pid resolver.
func WithLookup(fn LookupFunc) Option { return func(t *Terminator) { t.lookup = fn } }

// New returns a Terminator protecting DefaultProtected plus extra.
func New(extra []string, opts ...Option) *Terminator {
	t := &Terminator{
		GracePeriod:  DefaultGracePeriod,
		PollInterval: DefaultPollInterval,
		clock:        clock.RealClock{},
		lookup:       lookupProcess,
		protected:    make(map[string]struct{}, len(DefaultProtected)+len(extra)),
		self:         int32(os.Getpid()),
	}
	for _, name := range DefaultProtected {
		t.protected[name] = struct{}{}
	}
	for _, name := range extra {
		if name != "" {
			t.protected[name] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Protected reports whether name is on the denylist.
func (t *Terminator) Protected(name string) bool {
	_, ok := t.protected[name]
	return ok
}

// Terminate stops pid. Protected names are rejected with ErrProtected before
// any signal is sent. ErrNotFound and ErrAccessDenied are reported through
// the returned error and can be told apart with errors.Is.
func (t *Terminator) Terminate(ctx context.Context, pid int32) (Result, error) {
	res := Result{PID: pid}
	if pid <= 0 {
		return res, fmt.Errorf("terminate pid %d: %w", pid, ErrInvalidPID)
	}
	if pid == t.self {
		return res, fmt.Errorf("terminate pid %d: refusing to stop pcinfo itself: %w", pid, ErrProtected)
	}

	h, err := t.lookup(ctx, pid)
	if err != nil {
		return res, wrap(pid, "lookup", err)
	}

	name, err := h.NameWithContext(ctx)
	if err != nil {
		return res, wrap(pid, "read name", err)
	}
	res.Name = name

	if t.Protected(name) {
		klog.Warningf("refused to terminate protected process %s (pid %d)", name, pid)
		return res, fmt.Errorf("terminate %s (pid %d): %w", name, pid, ErrProtected)
	}

	if err := h.TerminateWithContext(ctx); err != nil {
		return res, wrap(pid, "terminate", err)
	}

	exited, err := t.waitExit(ctx, h)
	if err != nil {
		return res, err
	}
	if exited {
		res.Outcome = Terminated
		klog.Infof("terminated %s (pid %d)", name, pid)
		return res, nil
	}

	if err := h.KillWithContext(ctx); err != nil {
		// exited between the last probe and the kill
		if errors.Is(classify(err), ErrNotFound) {
			res.Outcome = Terminated
			return res, nil
		}
		return res, wrap(pid, "kill", err)
	}
	res.Outcome = Killed
	klog.Infof("force killed %s (pid %d) after %s", name, pid, t.GracePeriod)
	return res, nil
}

// waitExit polls until h stops running or the grace period ends.
func (t *Terminator) waitExit(ctx context.Context, h Handle) (bool, error) {
	deadline := t.clock.Now().Add(t.GracePeriod)
	for {
		running, err := h.IsRunningWithContext(ctx)
		switch {
		case err != nil && errors.Is(classify(err), ErrNotFound):
			return true, nil
		case err != nil:
			klog.V(2).Infof("liveness probe failed: %v", err)
		case !running:
			return true, nil
		}
		if !t.clock.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.clock.After(t.PollInterval):
		}
	}
}

func wrap(pid int32, op string, err error) error {
	if c := classify(err); c != nil {
		return fmt.Errorf("%s pid %d: %w: %w", op, pid, c, err)
	}
	return fmt.Errorf("%s pid %d: %w", op, pid, err)
}

// classify maps OS and gopsutil errors onto ErrNotFound / ErrAccessDenied.
func classify(err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, os.ErrProcessDone),
		errors.Is(err, syscall.ESRCH),
		errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return ErrAccessDenied
	}
	return nil
}
