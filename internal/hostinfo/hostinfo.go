// Package hostinfo serves the /specifications/ and /usages/ resource
// facts (component I), backed by gopsutil host/cpu/mem/disk/net samples.
package hostinfo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"sandboxd/internal/config"
	"sandboxd/internal/pool"
)

const sandboxVersion = "1.0.0"

// HostFacts is the static-ish host half of /specifications/.
type HostFacts struct {
	LogicalCPUs        int     `json:"logical_cpus"`
	PhysicalCPUs       int     `json:"physical_cpus"`
	CPUMinMHz          float64 `json:"cpu_min_mhz"`
	CPUMaxMHz          float64 `json:"cpu_max_mhz"`
	TotalMemoryBytes   uint64  `json:"total_memory_bytes"`
	TotalSwapBytes     uint64  `json:"total_swap_bytes"`
	ContainerRuntime   string  `json:"container_runtime"`
	SandboxVersion     string  `json:"sandbox_version"`
}

// DiskFacts describes usage on one mounted filesystem.
type DiskFacts struct {
	Mountpoint  string `json:"mountpoint"`
	TotalBytes  uint64 `json:"total_bytes"`
	UsedBytes   uint64 `json:"used_bytes"`
}

// ContainerLimits is what each pooled container is configured to see.
type ContainerLimits struct {
	CPUCount        float64 `json:"cpu_count"`
	CPUPeriod       int64   `json:"cpu_period"`
	CPUShares       int64   `json:"cpu_shares"`
	CPUQuota        int64   `json:"cpu_quota"`
	MemLimitBytes   int64   `json:"mem_limit_bytes"`
	MemSwapBytes    int64   `json:"memswap_limit_bytes"`
	StorageOptBytes int64   `json:"storage_opt_bytes"`
	PidsLimit       int64   `json:"pids_limit"`
	WorkingDir      string  `json:"working_dir"`
}

// Specifications is the full /specifications/ response.
type Specifications struct {
	Host       HostFacts       `json:"host"`
	Disks      []DiskFacts     `json:"disks"`
	Container  ContainerLimits `json:"container"`
}

// Usage is the full /usages/ response, a short-window instantaneous sample.
type Usage struct {
	CPUPercent     float64   `json:"cpu_percent"`
	LoadAverage1   float64   `json:"load_average_1m"`
	LoadAverage5   float64   `json:"load_average_5m"`
	LoadAverage15  float64   `json:"load_average_15m"`
	UsedMemBytes   uint64    `json:"used_memory_bytes"`
	UsedSwapBytes  uint64    `json:"used_swap_bytes"`
	UsedDiskBytes  uint64    `json:"used_disk_bytes"`
	BytesSentPerS  float64   `json:"bytes_sent_per_sec"`
	BytesRecvPerS  float64   `json:"bytes_recv_per_sec"`
	ProcessCount   int       `json:"process_count"`
	ContainerCount int       `json:"container_count"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Provider answers /specifications/ and /usages/ using host facts and
// the pool's current occupancy.
type Provider struct {
	cfg        config.Config
	pool       *pool.Pool
	sampleWindow time.Duration
}

// New builds a Provider. sampleWindow controls how long the network and
// CPU percent samples are collected over before returning.
func New(cfg config.Config, p *pool.Pool, sampleWindow time.Duration) *Provider {
	if sampleWindow <= 0 {
		sampleWindow = 2 * time.Second
	}
	return &Provider{cfg: cfg, pool: p, sampleWindow: sampleWindow}
}

// Specifications gathers the static host+container resource facts.
func (p *Provider) Specifications(ctx context.Context) (Specifications, error) {
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		counts = 0
	}
	physical, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		physical = 0
	}
	infoStats, err := cpu.InfoWithContext(ctx)
	var minMHz, maxMHz float64
	if err == nil && len(infoStats) > 0 {
		minMHz = infoStats[0].Mhz
		maxMHz = infoStats[0].Mhz
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	var totalMem uint64
	if err == nil {
		totalMem = vm.Total
	}
	sw, err := mem.SwapMemoryWithContext(ctx)
	var totalSwap uint64
	if err == nil {
		totalSwap = sw.Total
	}

	hostInfo, err := host.InfoWithContext(ctx)
	runtimeVersion := "docker"
	if err == nil && hostInfo.KernelVersion != "" {
		runtimeVersion = "docker (kernel " + hostInfo.KernelVersion + ")"
	}

	var disks []DiskFacts
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err == nil {
		for _, part := range partitions {
			usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil {
				continue
			}
			disks = append(disks, DiskFacts{
				Mountpoint: part.Mountpoint,
				TotalBytes: usage.Total,
				UsedBytes:  usage.Used,
			})
		}
	}

	return Specifications{
		Host: HostFacts{
			LogicalCPUs:      counts,
			PhysicalCPUs:     physical,
			CPUMinMHz:        minMHz,
			CPUMaxMHz:        maxMHz,
			TotalMemoryBytes: totalMem,
			TotalSwapBytes:   totalSwap,
			ContainerRuntime: runtimeVersion,
			SandboxVersion:   sandboxVersion,
		},
		Disks: disks,
		Container: ContainerLimits{
			CPUCount:        cpusetCount(p.cfg.Container.CPUSetCPUs),
			CPUPeriod:       p.cfg.Container.CPUPeriod,
			CPUShares:       p.cfg.Container.CPUShares,
			CPUQuota:        p.cfg.Container.CPUQuota,
			MemLimitBytes:   p.cfg.Container.MemLimitBytes,
			MemSwapBytes:    p.cfg.Container.MemSwapBytes,
			StorageOptBytes: p.cfg.Container.StorageOptBytes,
			PidsLimit:       p.cfg.Container.PidsLimit,
			WorkingDir:      "/home/docker",
		},
	}, nil
}

// Usage samples instantaneous host utilization plus pool occupancy.
func (p *Provider) Usage(ctx context.Context) (Usage, error) {
	percents, err := cpu.PercentWithContext(ctx, p.sampleWindow, false)
	var cpuPercent float64
	if err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	avg, err := load.AvgWithContext(ctx)
	var l1, l5, l15 float64
	if err == nil {
		l1, l5, l15 = avg.Load1, avg.Load5, avg.Load15
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	var usedMem uint64
	if err == nil {
		usedMem = vm.Used
	}
	sw, err := mem.SwapMemoryWithContext(ctx)
	var usedSwap uint64
	if err == nil {
		usedSwap = sw.Used
	}

	var usedDisk uint64
	if usage, err := disk.UsageWithContext(ctx, p.cfg.EnvironmentRoot); err == nil {
		usedDisk = usage.Used
	}

	before, errBefore := net.IOCountersWithContext(ctx, false)
	time.Sleep(p.sampleWindow)
	after, errAfter := net.IOCountersWithContext(ctx, false)
	var sentPerS, recvPerS float64
	if errBefore == nil && errAfter == nil && len(before) > 0 && len(after) > 0 {
		secs := p.sampleWindow.Seconds()
		if secs > 0 {
			sentPerS = float64(after[0].BytesSent-before[0].BytesSent) / secs
			recvPerS = float64(after[0].BytesRecv-before[0].BytesRecv) / secs
		}
	}

	processCount := 0
	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		processCount = int(hostInfo.Procs)
	}

	return Usage{
		CPUPercent:     cpuPercent,
		LoadAverage1:   l1,
		LoadAverage5:   l5,
		LoadAverage15:  l15,
		UsedMemBytes:   usedMem,
		UsedSwapBytes:  usedSwap,
		UsedDiskBytes:  usedDisk,
		BytesSentPerS:  sentPerS,
		BytesRecvPerS:  recvPerS,
		ProcessCount:   processCount,
		ContainerCount: p.pool.Size() - p.pool.Available(),
		SampledAt:      time.Now(),
	}, nil
}

// cpusetCount approximates an effective CPU count from a docker
// cpuset_cpus string like "0-2,4".
func cpusetCount(cpuset string) float64 {
	if cpuset == "" {
		return 0
	}
	count := 0
	for _, token := range strings.Split(cpuset, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		lo, hi, found := strings.Cut(token, "-")
		if !found {
			count++
			continue
		}
		a, errA := strconv.Atoi(lo)
		b, errB := strconv.Atoi(hi)
		if errA != nil || errB != nil || b < a {
			count++
			continue
		}
		count += b - a + 1
	}
	return float64(count)
}
