package throttle

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// ProcessSampler reads system CPU utilisation and the resident set size of
// the current process.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler binds a sampler to the running process and primes the
// CPU counters so the first Sample has a baseline.
func NewProcessSampler(ctx context.Context) (*ProcessSampler, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	if _, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		return nil, fmt.Errorf("prime cpu counters: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample implements Sampler. CPU is measured since the previous call.
func (s *ProcessSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu percent: %w", err)
	}
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	var out Sample
	if len(percents) > 0 {
		out.CPUPercent = percents[0]
	}
	out.RSSBytes = info.RSS
	return out, nil
}

// HostMemory reports total and available system memory, used to log the
// environment the RSS ceiling is applied in.
func HostMemory(ctx context.Context) (total, available uint64, err error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}
