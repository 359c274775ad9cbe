package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"k8s.io/klog/v2"

	"github.com/Dicklesworthstone/pcinfo/internal/model"
)

const gib = 1024 * 1024 * 1024

// Sampler reads host facts and the process table through gopsutil.
// It remembers process handles between calls so CPU usage is measured over
// the interval between two Processes calls rather than over process lifetime.
type Sampler struct {
	// Root is the volume whose size is reported as storage total.
	Root string

	mu      sync.Mutex
	tracked map[int32]*tracked
}

type tracked struct {
	proc    *process.Process
	created int64
}

// New returns a Sampler whose disk total is read from the system drive on
// Windows and from / elsewhere.
func New() *Sampler {
	return &Sampler{
		Root:    rootVolume(),
		tracked: make(map[int32]*tracked),
	}
}

func rootVolume() string {
	if runtime.GOOS == "windows" {
		if drive := os.Getenv("SystemDrive"); drive != "" {
			return drive + `\`
		}
		return `C:\`
	}
	return "/"
}

// Snapshot queries CPU, memory, disk and OS facts. Individual query failures
// are joined into the returned error; the fields that could be read are
// still filled in.
func (s *Sampler) Snapshot(ctx context.Context) (model.SystemSnapshot, error) {
	snap := model.SystemSnapshot{
		GoVersion: runtime.Version(),
		TakenAt:   time.Now(),
	}
	var errs []error

	if infos, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu info: %w", err))
	} else if len(infos) > 0 {
		snap.CPUName = strings.TrimSpace(infos[0].ModelName)
		snap.Processor = processorString(infos[0])
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("cpu count: %w", err))
	} else {
		snap.CPUCount = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("virtual memory: %w", err))
	} else {
		snap.RAMGB = roundGiB(vm.Total)
	}

	if du, err := disk.UsageWithContext(ctx, s.Root); err != nil {
		errs = append(errs, fmt.Errorf("disk usage %s: %w", s.Root, err))
	} else {
		snap.DiskGB = roundGiB(du.Total)
	}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	} else {
		snap.OSName = cases.Title(language.English).String(hi.OS)
		snap.OSVersion = osVersion(hi)
		snap.Architecture = hi.KernelArch
		snap.Hostname = hi.Hostname
	}

	if snap.Architecture == "" {
		snap.Architecture = runtime.GOARCH
	}
	return snap, errors.Join(errs...)
}

func processorString(info cpu.InfoStat) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{info.VendorID, info.Family, info.Model} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func osVersion(hi *host.InfoStat) string {
	v := strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	if hi.KernelVersion != "" {
		if v == "" {
			return hi.KernelVersion
		}
		v += " (kernel " + hi.KernelVersion + ")"
	}
	return v
}

func roundGiB(b uint64) int {
	return int((b + gib/2) / gib)
}

// Processes lists every process except the idle sentinel, highest CPU first.
// Processes that exit while being read are skipped.
func (s *Sampler) Processes(ctx context.Context) ([]model.ProcessRow, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int32]struct{}, len(procs))
	rows := make([]model.ProcessRow, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == model.IdleProcessName {
			continue
		}
		seen[p.Pid] = struct{}{}

		cpuPct := s.cpuPercent(ctx, p)
		memPct, _ := p.MemoryPercentWithContext(ctx)

		rows = append(rows, model.ProcessRow{
			PID:           p.Pid,
			Name:          name,
			CPUPercent:    cpuPct,
			MemoryPercent: float64(memPct),
		})
	}

	for pid := range s.tracked {
		if _, ok := seen[pid]; !ok {
			delete(s.tracked, pid)
		}
	}

	model.SortByCPU(rows)
	klog.V(3).Infof("listed %d processes", len(rows))
	return rows, nil
}

// cpuPercent returns usage since the previous call for a known process and
// the lifetime average for one seen for the first time.
func (s *Sampler) cpuPercent(ctx context.Context, p *process.Process) float64 {
	created, _ := p.CreateTimeWithContext(ctx)

	t, ok := s.tracked[p.Pid]
	if !ok || t.created != created {
		t = &tracked{proc: p, created: created}
		s.tracked[p.Pid] = t
		// prime the delta for the next poll
		_, _ = p.PercentWithContext(ctx, 0)
		pct, _ := p.CPUPercentWithContext(ctx)
		return clampPercent(pct)
	}

	pct, _ := t.proc.PercentWithContext(ctx, 0)
	return clampPercent(pct)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Alive reports whether pid still exists.
func (s *Sampler) Alive(ctx context.Context, pid int32) (bool, error) {
	ok, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
	return ok, nil
}
