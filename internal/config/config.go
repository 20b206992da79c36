// Package config is the ambient configuration loader: a hand-rolled .env
// file reader plus environment-variable overrides, exposed through typed
// accessor functions, in the exact shape of the teacher's
// internal/config/config.go (LoadDeviceConfig/findProjectRoot/parseEnvFile)
// generalized from its three DEVICE_* fields to every tunable spec section
// 6 names, each under a KEEPKEYD_ prefix.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of spec section 6's Configuration table, with
// the defaults that section specifies.
type Config struct {
	EnumScanIntervalMS       int
	DisconnectGraceMS        int
	IdleTransportTimeoutMS   int
	WorkerInboxCapacity      int
	EventSubscriberBuffer    int
	UploadChunkBytes         int
	TransportRetryScheduleMS []int

	// Per-op timeout defaults (ms), keyed by op name; spec section 6's
	// op_timeout_ms{op}. Unlisted ops fall back to OpTimeoutDefaultMS.
	OpTimeoutDefaultMS int
	OpTimeoutMS        map[string]int

	HTTPAddr     string
	LogLevel     string
	LogFileDir   string
	RegistryPath string
}

// Defaults matches spec section 6 exactly.
func Defaults() Config {
	return Config{
		EnumScanIntervalMS:       500,
		DisconnectGraceMS:        10000,
		IdleTransportTimeoutMS:   120000,
		WorkerInboxCapacity:      32,
		EventSubscriberBuffer:    256,
		UploadChunkBytes:         1024,
		TransportRetryScheduleMS: []int{100, 250, 500},
		OpTimeoutDefaultMS:       5000,
		OpTimeoutMS: map[string]int{
			"button_confirm":    120000,
			"update_firmware":   900000,
			"update_bootloader": 900000,
		},
		HTTPAddr:     "127.0.0.1:8303",
		LogLevel:     "info",
		LogFileDir:   "",
		RegistryPath: "",
	}
}

var (
	loaded   *Config
	envCache map[string]string
)

// Load reads .env (if present, discovered by walking up from the current
// working directory to the nearest go.mod, exactly like the teacher's
// findProjectRoot) and layers KEEPKEYD_* environment variables on top,
// caching the result the way the teacher's LoadDeviceConfig does.
func Load() Config {
	if loaded != nil {
		return *loaded
	}

	cfg := Defaults()

	if envCache == nil {
		envCache = map[string]string{}
		root := findProjectRoot()
		data, err := os.ReadFile(filepath.Join(root, ".env"))
		if err == nil {
			parseEnvFile(string(data), envCache)
		}
	}

	applyString(envCache, "KEEPKEYD_HTTP_ADDR", &cfg.HTTPAddr)
	applyString(envCache, "KEEPKEYD_LOG_LEVEL", &cfg.LogLevel)
	applyString(envCache, "KEEPKEYD_LOG_FILE_DIR", &cfg.LogFileDir)
	applyString(envCache, "KEEPKEYD_REGISTRY_PATH", &cfg.RegistryPath)

	applyInt(envCache, "KEEPKEYD_ENUM_SCAN_INTERVAL_MS", &cfg.EnumScanIntervalMS)
	applyInt(envCache, "KEEPKEYD_DISCONNECT_GRACE_MS", &cfg.DisconnectGraceMS)
	applyInt(envCache, "KEEPKEYD_IDLE_TRANSPORT_TIMEOUT_MS", &cfg.IdleTransportTimeoutMS)
	applyInt(envCache, "KEEPKEYD_WORKER_INBOX_CAPACITY", &cfg.WorkerInboxCapacity)
	applyInt(envCache, "KEEPKEYD_EVENT_SUBSCRIBER_BUFFER", &cfg.EventSubscriberBuffer)
	applyInt(envCache, "KEEPKEYD_UPLOAD_CHUNK_BYTES", &cfg.UploadChunkBytes)
	applyInt(envCache, "KEEPKEYD_OP_TIMEOUT_DEFAULT_MS", &cfg.OpTimeoutDefaultMS)
	applyIntSlice(envCache, "KEEPKEYD_TRANSPORT_RETRY_SCHEDULE_MS", &cfg.TransportRetryScheduleMS)

	loaded = &cfg
	return cfg
}

// OpTimeout returns op's configured timeout, falling back to
// OpTimeoutDefaultMS for ops with no specific entry.
func (c Config) OpTimeout(op string) time.Duration {
	if ms, ok := c.OpTimeoutMS[op]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(c.OpTimeoutDefaultMS) * time.Millisecond
}

func applyString(env map[string]string, key string, dst *string) {
	if v, ok := lookup(env, key); ok {
		*dst = v
	}
}

func applyInt(env map[string]string, key string, dst *int) {
	if v, ok := lookup(env, key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyIntSlice(env map[string]string, key string, dst *[]int) {
	v, ok := lookup(env, key)
	if !ok {
		return
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// lookup prefers a real environment variable over the cached .env value,
// matching the teacher's override order in LoadDeviceConfig.
func lookup(env map[string]string, key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := env[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func parseEnvFile(content string, dst map[string]string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		dst[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
