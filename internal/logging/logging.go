// Package logging points klog at a per-run log file so nothing is written
// over the terminal UI.
package logging

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const fileTimeLayout = "2006-01-02_15-04-05"

var (
	mu      sync.Mutex
	current *os.File
)

// FileName returns the log file name for a run started at t.
func FileName(t time.Time) string {
	return "pcinfo-" + t.Format(fileTimeLayout) + ".log"
}

// Setup creates dir and routes every klog severity to a single timestamped
// file in it, closing the file of any earlier call. It returns the file path.
func Setup(dir string, verbosity int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(time.Now()))

	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	for name, value := range map[string]string{
		"logtostderr":     "false",
		"alsologtostderr": "false",
		"stderrthreshold": "FATAL",
		"one_output":      "true",
		"v":               strconv.Itoa(verbosity),
	} {
		if err := fs.Set(name, value); err != nil {
			return "", fmt.Errorf("klog flag %s: %w", name, err)
		}
	}

	// klog opens log_file only once per process, so the file is opened here
	// and handed over with SetOutput instead.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open log file %s: %w", path, err)
	}
	mu.Lock()
	klog.LogToStderr(false)
	klog.SetOutput(f)
	prev := current
	current = f
	mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	klog.Infof("logging to %s at verbosity %d", path, verbosity)
	return path, nil
}

// Flush writes buffered log lines.
func Flush() {
	klog.Flush()
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		_ = current.Sync()
	}
}
