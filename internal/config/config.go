// Package config loads sandbox service configuration from environment
// variables, following the same env-var-driven, typed-struct approach
// the rest of this codebase uses for runtime configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LibraryRepo is a (alias, git url) pair staged read-only into every container.
type LibraryRepo struct {
	Alias string
	URL   string
}

// ContainerParams holds the fixed per-container resource and isolation
// parameters handed to the container runtime on create.
type ContainerParams struct {
	Image            string
	CPUSetCPUs       string
	CPUPeriod        int64
	CPUShares        int64
	CPUQuota         int64
	MemLimitBytes    int64
	MemSwapBytes     int64
	StorageOptBytes  int64
	PidsLimit        int64
	CoreDumpULimit   int64
	LibrariesMount   string // host path bind-mounted read-only at /utils/libs
	VolumeHostBaseDir string // host dir whose per-container subdirs back /home/docker
}

// Config is the complete sandbox service configuration.
type Config struct {
	// Pool (component B)
	DockerCount               int
	WaitForContainerDuration  time.Duration
	Container                 ContainerParams

	// Environment store (component C)
	EnvironmentRoot       string
	EnvironmentExpiration time.Duration
	EnvironmentIndexPath  string // bbolt index file, empty disables the accelerator

	// Executor (component F)
	ExecuteTimeout time.Duration

	// External libraries (component J)
	ExternalLibrariesRoot string
	Libraries             []LibraryRepo
	LibraryRefreshCron    time.Duration

	// Scheduler (component H)
	ExpireInterval time.Duration

	// HTTP surface (component G) / ambient
	Port            string
	MetricsAddr     string
	RateLimitRPS    float64
	RateLimitBurst  int
	LogLevel        string
	WSPingInterval  time.Duration
}

// Load builds a Config from the process environment, applying the same
// production-biased defaults the sandbox-v2 manager config uses.
func Load() Config {
	return Config{
		DockerCount:              envInt("DOCKER_COUNT", 20),
		WaitForContainerDuration: envDuration("WAIT_FOR_CONTAINER_DURATION", 10*time.Second),
		Container: ContainerParams{
			Image:             envOr("DOCKER_IMAGE", "sandboxd/runner:latest"),
			CPUSetCPUs:        envOr("DOCKER_CPUSET_CPUS", "0"),
			CPUPeriod:         envInt64("DOCKER_CPU_PERIOD", 100000),
			CPUShares:         envInt64("DOCKER_CPU_SHARES", 1024),
			CPUQuota:          envInt64("DOCKER_CPU_QUOTA", 100000),
			MemLimitBytes:     envInt64("DOCKER_MEM_LIMIT", 512*1024*1024),
			MemSwapBytes:      envInt64("DOCKER_MEMSWAP_LIMIT", 512*1024*1024),
			StorageOptBytes:   envInt64("DOCKER_STORAGE_OPT", 1024*1024*1024),
			PidsLimit:         envInt64("DOCKER_PIDS_LIMIT", 128),
			CoreDumpULimit:    0,
			LibrariesMount:    envOr("EXTERNAL_LIBRARIES_ROOT", "/srv/sandboxd/libs"),
			VolumeHostBaseDir: envOr("DOCKER_VOLUME_HOST_BASEDIR", "/srv/sandboxd/containers_env"),
		},

		EnvironmentRoot:       envOr("ENVIRONMENT_ROOT", "/srv/sandboxd/environments"),
		EnvironmentExpiration: envDuration("ENVIRONMENT_EXPIRATION", 7*24*time.Hour),
		EnvironmentIndexPath:  os.Getenv("ENVIRONMENT_INDEX_PATH"),

		ExecuteTimeout: envDuration("EXECUTE_TIMEOUT", 30*time.Second),

		ExternalLibrariesRoot: envOr("EXTERNAL_LIBRARIES_ROOT", "/srv/sandboxd/libs"),
		Libraries:             envLibraries("EXTERNAL_LIBRARIES"),
		LibraryRefreshCron:    envDuration("LIBRARY_REFRESH_INTERVAL", 2*time.Hour),

		ExpireInterval: envDuration("EXPIRE_INTERVAL", time.Hour),

		Port:           envOr("PORT", "8080"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 10),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		WSPingInterval: envDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
	}
}

// envLibraries parses "alias1=url1,alias2=url2" into LibraryRepo entries.
func envLibraries(key string) []LibraryRepo {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var repos []LibraryRepo
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		repos = append(repos, LibraryRepo{Alias: strings.TrimSpace(parts[0]), URL: strings.TrimSpace(parts[1])})
	}
	return repos
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
