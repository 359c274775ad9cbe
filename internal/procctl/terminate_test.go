package procctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shirou/gopsutil/v3/process"
)

type fakeHandle struct {
	mu sync.Mutex

	name    string
	nameErr error

	termErr error
	killErr error

	// exitOnTerm makes the process stop as soon as it is terminated.
	exitOnTerm bool

	running bool
	calls   []string
}

func (f *fakeHandle) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeHandle) NameWithContext(context.Context) (string, error) {
	return f.name, f.nameErr
}

func (f *fakeHandle) TerminateWithContext(context.Context) error {
	f.record("terminate")
	if f.termErr != nil {
		return f.termErr
	}
	f.mu.Lock()
	if f.exitOnTerm {
		f.running = false
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) KillWithContext(context.Context) error {
	f.record("kill")
	if f.killErr != nil {
		return f.killErr
	}
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeHandle) IsRunningWithContext(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func newTestTerminator(h Handle, lookupErr error) *Terminator {
	term := New([]string{"precious"}, WithLookup(func(context.Context, int32) (Handle, error) {
		if lookupErr != nil {
			return nil, lookupErr
		}
		return h, nil
	}))
	term.GracePeriod = 30 * time.Millisecond
	term.PollInterval = 5 * time.Millisecond
	return term
}

func TestTerminateGraceful(t *testing.T) {
	h := &fakeHandle{name: "editor", running: true, exitOnTerm: true}
	term := newTestTerminator(h, nil)

	got, err := term.Terminate(context.Background(), 1234)
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}

	want := Result{PID: 1234, Name: "editor", Outcome: Terminated}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"terminate"}, h.calls); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}

func TestTerminateForceKill(t *testing.T) {
	h := &fakeHandle{name: "stubborn", running: true}
	term := newTestTerminator(h, nil)

	got, err := term.Terminate(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}
	if got.Outcome != Killed {
		t.Fatalf("outcome = %v, want %v", got.Outcome, Killed)
	}
	if diff := cmp.Diff([]string{"terminate", "kill"}, h.calls); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
}

func TestTerminateProtected(t *testing.T) {
	for _, name := range []string{"svchost.exe", "systemd", "precious"} {
		t.Run(name, func(t *testing.T) {
			h := &fakeHandle{name: name, running: true}
			term := newTestTerminator(h, nil)

			_, err := term.Terminate(context.Background(), 4242)
			if !errors.Is(err, ErrProtected) {
				t.Fatalf("expected ErrProtected, got %v", err)
			}
			if len(h.calls) != 0 {
				t.Fatalf("protected process was signalled: %v", h.calls)
			}
		})
	}
}

func TestTerminateSelf(t *testing.T) {
	h := &fakeHandle{name: "pcinfo", running: true}
	term := newTestTerminator(h, nil)

	_, err := term.Terminate(context.Background(), int32(os.Getpid()))
	if !errors.Is(err, ErrProtected) {
		t.Fatalf("expected ErrProtected, got %v", err)
	}
	if len(h.calls) != 0 {
		t.Fatalf("own process was signalled: %v", h.calls)
	}
}

func TestTerminateErrors(t *testing.T) {
	tests := []struct {
		name      string
		pid       int32
		lookupErr error
		handle    *fakeHandle
		want      error
	}{
		{
			name: "invalid pid",
			pid:  0,
			want: ErrInvalidPID,
		},
		{
			name:      "not running",
			pid:       10,
			lookupErr: process.ErrorProcessNotRunning,
			want:      ErrNotFound,
		},
		{
			name:   "terminate finds process gone",
			pid:    11,
			handle: &fakeHandle{name: "gone", running: true, termErr: os.ErrProcessDone},
			want:   ErrNotFound,
		},
		{
			name:   "terminate denied",
			pid:    12,
			handle: &fakeHandle{name: "rootd", running: true, termErr: fmt.Errorf("signal: %w", syscall.EPERM)},
			want:   ErrAccessDenied,
		},
		{
			name:   "kill denied",
			pid:    13,
			handle: &fakeHandle{name: "rootd", running: true, killErr: syscall.EPERM},
			want:   ErrAccessDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Handle
			if tt.handle != nil {
				h = tt.handle
			}
			term := newTestTerminator(h, tt.lookupErr)

			_, err := term.Terminate(context.Background(), tt.pid)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTerminateKillRace(t *testing.T) {
	h := &fakeHandle{name: "flaky", running: true, killErr: syscall.ESRCH}
	term := newTestTerminator(h, nil)

	got, err := term.Terminate(context.Background(), 77)
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}
	if got.Outcome != Terminated {
		t.Fatalf("outcome = %v, want %v", got.Outcome, Terminated)
	}
}

func TestTerminateRealChild(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("no /bin/sleep on this host")
	}

	proc, err := os.StartProcess("/bin/sleep", []string{"sleep", "30"}, &os.ProcAttr{})
	if err != nil {
		t.Fatalf("start child: %v", err)
	}
	// reap the child so it does not linger as a zombie
	go func() { _, _ = proc.Wait() }()

	term := New(nil)
	got, err := term.Terminate(context.Background(), int32(proc.Pid))
	if err != nil {
		t.Fatalf("unexpected error = %v", err)
	}
	if got.Name != "sleep" {
		t.Fatalf("name = %q, want sleep", got.Name)
	}
	if got.Outcome == 0 {
		t.Fatalf("expected an outcome")
	}
}
