// Package main is the entry point for loadwire, a resource-load client
// that speaks the loader wire protocol on stdin and stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/loadwire/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the command line.
type options struct {
	ConfigPath string
	LogLevel   string
	Sync       bool
	Method     string
	NetlogPath string
	PolicyPath string
	Origin     string
	History    int
	URLs       []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}
	applyOverrides(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	c, err := newClient(ctx, cfg, opts.ConfigPath, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer c.Shutdown()
	c.origin = opts.Origin
	c.history = opts.History

	var failed int
	if opts.Sync {
		failed = c.FetchSync(ctx, opts.Method, opts.URLs)
	} else {
		failed = c.FetchAsync(ctx, opts.Method, opts.URLs)
	}
	summaryCtx, cancelSummary := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSummary()
	c.PrintSummary(summaryCtx)

	if failed > 0 {
		return 2
	}
	return 0
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.NetlogPath != "" {
		cfg.Netlog.Enabled = true
		cfg.Netlog.Path = opts.NetlogPath
	}
	if opts.PolicyPath != "" {
		cfg.Policy.Script = opts.PolicyPath
	}
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml or .yaml)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.Sync, "sync", false, "Load URLs synchronously, one at a time")
	flag.StringVar(&opts.Method, "method", "GET", "Request method")
	flag.StringVar(&opts.NetlogPath, "netlog", "", "Record completed loads to this SQLite database")
	flag.StringVar(&opts.PolicyPath, "policy", "", "Lua redirect policy script")
	flag.StringVar(&opts.Origin, "origin", "", "Frame origin loads are issued from")
	flag.IntVar(&opts.History, "history", 0, "List this many stored loads from the netlog database")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "loadwire - resource load client\n\n")
		fmt.Fprintf(os.Stderr, "Usage: loadwire [options] url...\n\n")
		fmt.Fprintf(os.Stderr, "Frames are exchanged on stdin/stdout; events are printed to stderr.\n")
		fmt.Fprintf(os.Stderr, "If stdin is a unix socket it carries both directions and data buffers.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  loadwire https://example.com/               Load one URL\n")
		fmt.Fprintf(os.Stderr, "  loadwire -sync https://a/ https://b/        Load URLs synchronously\n")
		fmt.Fprintf(os.Stderr, "  loadwire -netlog net.db -policy p.lua URL   Record loads, script redirects\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("loadwire %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
		os.Exit(1)
	}

	opts.URLs = flag.Args()
	if len(opts.URLs) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	return opts
}
