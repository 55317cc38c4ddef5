// hashidx builds and queries static hash indexes over delimited JSON records.
//
// Usage:
//
//	hashidx build [flags] <data-file> <index-file>
//	hashidx get [flags] <data-file> <index-file> <key>...
//	hashidx stat <data-file> <index-file>
//	hashidx verify <data-file> <index-file>
//
// Common flags:
//
//	-c, --config      Config file (default: ./.hashidx.json if present)
//	-v, --verbose     Debug logging
//
// Build flags:
//
//	-d, --delims      Record delimiters, Go escapes allowed (default: "\r\n")
//	-k, --keys        Comma-separated JSON key fields (default: id)
//	-n, --estimate    Expected record count (default: count first)
//	    --report      Write the build report as JSON to this path
//
// Get flags:
//
//	-k, --keys        JSON key fields a candidate record may match
//	    --channels    Read handles per file (default: 5)
//
// Exit status is 0 on success, 1 on failure, 2 on usage errors and 3 when
// get did not find every key.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options are the flags shared by every command after config merging.
type options struct {
	cfg    Config
	report string
	logger *zap.Logger
	args   []string
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	var handler func(context.Context, *options) (int, error)
	switch cmd {
	case "build":
		handler = runBuild
	case "get":
		handler = runGet
	case "stat":
		handler = runStat
	case "verify":
		handler = runVerify
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "hashidx: unknown command %q\n", cmd)
		printUsage(stderr)
		return exitUsage
	}

	opts, err := parseFlags(cmd, rest, stdout, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "hashidx %s: %v\n", cmd, err)
		return exitUsage
	}
	defer func() { _ = opts.logger.Sync() }()

	code, err := handler(ctx, opts)
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "hashidx %s: %v\n", cmd, err)
			return exitUsage
		}
		opts.logger.Error("command failed", zap.String("command", cmd), zap.Error(err))
		return exitFailure
	}
	return code
}

func parseFlags(cmd string, args []string, stdout, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.StringP("config", "c", "", "config file (default ./"+ConfigFileName+" if present)")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	delims := fs.StringP("delims", "d", "", `record delimiters, Go escapes allowed (default "\r\n")`)
	keys := fs.StringSliceP("keys", "k", nil, "JSON key fields (default id)")
	estimate := fs.Uint64P("estimate", "n", 0, "expected record count (default: count first)")
	channels := fs.Int("channels", 0, "read handles per file (default 5)")
	report := fs.String("report", "", "write the build report as JSON to this path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(workDir, *configPath)
	if err != nil {
		return nil, err
	}

	// CLI overrides
	override := Config{Keys: *keys, Channels: *channels, Estimate: *estimate}
	if *delims != "" {
		d, err := strconv.Unquote(`"` + *delims + `"`)
		if err != nil {
			return nil, fmt.Errorf("invalid --delims %q: %w", *delims, err)
		}
		override.Delimiters = d
	}
	cfg = mergeConfig(cfg, override)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &options{
		cfg:    cfg,
		report: *report,
		logger: newLogger(stderr, *verbose),
		args:   fs.Args(),
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// newLogger returns a console logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage:
  hashidx build [flags] <data-file> <index-file>
  hashidx get [flags] <data-file> <index-file> <key>...
  hashidx stat <data-file> <index-file>
  hashidx verify <data-file> <index-file>

Run 'hashidx <command> --help' for flags.
`)
}
