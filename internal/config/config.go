// Package config holds the runtime configuration for the control plane.
// Defaults mirror a local ZAP daemon on its standard port; every knob can be
// overridden through ZAP_*-prefixed environment variables so containerized
// deployments need no flags.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config contains every runtime option used by the scanner client, the scan
// manager and the HTTP API surface.
type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// ZapBase is the base URL of the scanner's control API.
	ZapBase string

	// APIKey is appended to every control API call when non-empty.
	APIKey string

	// SessionName is the base name for per-scan analysis sessions; each scan
	// appends a unix timestamp to keep sessions unique.
	SessionName string

	// RetryTotal is the number of retries (beyond the first attempt) the
	// scanner client performs on transport failures.
	RetryTotal int

	// Backoff is the base delay for the client's exponential retry backoff.
	Backoff time.Duration

	// ConnectTimeout and ReadTimeout bound individual control API calls.
	// ReadTimeout is deliberately generous: some status views block while the
	// scanner is under heavy load.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// PoolSize caps idle connections kept to the scanner.
	PoolSize int

	// RequestsPerSecond throttles control API calls across all poll loops.
	RequestsPerSecond float64

	// ProgressStep is the reporting bucket width for progress callbacks.
	ProgressStep int

	// Workers bounds how many scans run concurrently.
	Workers int

	// QueueDepth bounds how many accepted scans may wait for a free worker.
	// Start calls beyond this bound are rejected.
	QueueDepth int
}

// Default returns a Config populated with the defaults used against a local
// scanner instance.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8082",
		ZapBase:           "http://127.0.0.1:8080",
		APIKey:            "",
		SessionName:       "zapgate_session",
		RetryTotal:        5,
		Backoff:           1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		ReadTimeout:       10 * time.Minute,
		PoolSize:          50,
		RequestsPerSecond: 20,
		ProgressStep:      10,
		Workers:           5,
		QueueDepth:        20,
	}
}

// FromEnv returns Default overridden by ZAP_* environment variables.
func FromEnv() *Config {
	cfg := Default()

	envString(&cfg.ListenAddr, "ZAPGATE_ADDR")
	envString(&cfg.ZapBase, "ZAP_BASE")
	envString(&cfg.APIKey, "ZAP_APIKEY")
	envString(&cfg.SessionName, "ZAP_SESSION_NAME")
	envInt(&cfg.RetryTotal, "ZAP_RETRY_TOTAL")
	envSeconds(&cfg.Backoff, "ZAP_BACKOFF")
	envSeconds(&cfg.ConnectTimeout, "ZAP_HTTP_CONNECT_TIMEOUT")
	envSeconds(&cfg.ReadTimeout, "ZAP_HTTP_READ_TIMEOUT")
	envInt(&cfg.PoolSize, "ZAP_HTTP_POOL_SIZE")
	envFloat(&cfg.RequestsPerSecond, "ZAP_REQUESTS_PER_SECOND")
	envInt(&cfg.ProgressStep, "ZAP_PROGRESS_STEP")
	envInt(&cfg.Workers, "ZAP_SCAN_WORKERS")
	envInt(&cfg.QueueDepth, "ZAP_SCAN_QUEUE")

	return cfg
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// envSeconds reads a duration expressed as seconds, matching how the
// scanner's own configuration expresses timeouts.
func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}
