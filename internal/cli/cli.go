package cli

import (
	"flag"
	"strings"

	"github.com/zapgate/zapgate/internal/config"
)

// CLIArgs are the command-line overrides applied on top of the environment
// configuration. Keep this small for now — add fields as modules need them.
type CLIArgs struct {
	// Addr is the HTTP listen address for the API server.
	Addr string

	// ZapBase is the base URL of the backing scanner's JSON API.
	ZapBase string

	// APIKey authenticates against the scanner.
	APIKey string

	// SessionName is the base name for per-scan scanner sessions.
	SessionName string

	// Workers overrides the scan worker pool size; 0 means "use config default".
	Workers int

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by
// passing arbitrary slices. The function is deterministic and does not read
// os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("zapgate", flag.ContinueOnError)
	var (
		addr        = fs.String("addr", "", "HTTP listen address (default from ZAPGATE_ADDR)")
		zapBase     = fs.String("zap-base", "", "Scanner JSON API base URL (default from ZAP_BASE)")
		apiKey      = fs.String("api-key", "", "Scanner API key (default from ZAP_APIKEY)")
		sessionName = fs.String("session-name", "", "Base name for scanner sessions")
		workers     = fs.Int("workers", 0, "Scan worker pool size (0=use default)")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(nil)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &CLIArgs{
		Addr:        strings.TrimSpace(*addr),
		ZapBase:     strings.TrimSpace(*zapBase),
		APIKey:      strings.TrimSpace(*apiKey),
		SessionName: strings.TrimSpace(*sessionName),
		Workers:     *workers,
		RawArgs:     args,
	}, nil
}

// Apply overlays the parsed flags onto cfg. Empty and zero flags leave the
// corresponding field untouched.
func (a *CLIArgs) Apply(cfg *config.Config) {
	if a.Addr != "" {
		cfg.ListenAddr = a.Addr
	}
	if a.ZapBase != "" {
		cfg.ZapBase = a.ZapBase
	}
	if a.APIKey != "" {
		cfg.APIKey = a.APIKey
	}
	if a.SessionName != "" {
		cfg.SessionName = a.SessionName
	}
	if a.Workers > 0 {
		cfg.Workers = a.Workers
	}
}
