// Command tracecheck validates sensor recordings against the integrity rule
// table and prints a verdict per file.
//
// Usage:
//
//	tracecheck [flags] recording.json...
//	tracecheck -db reports.db migrate <command>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/version"
)

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1
	exitUsage    = 2
)

// Config holds the command line options.
type Config struct {
	ConfigPath  string
	RulesPath   string
	DBPath      string
	PlotDir     string
	ServerURL   string
	JSON        bool
	Windows     bool
	Quiet       bool
	Workers     int
	ShowVersion bool
	Args        []string
}

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("tracecheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Check configuration JSON (defaults built in)")
	fs.StringVar(&cfg.RulesPath, "rules", "", "Sensor rule table JSON (overrides rules_path)")
	fs.StringVar(&cfg.DBPath, "db", "", "SQLite database to store reports in")
	fs.StringVar(&cfg.PlotDir, "plots", "", "Directory for PNG and HTML trace plots")
	fs.StringVar(&cfg.ServerURL, "server", "", "Upload recordings to this report server instead of validating locally")
	fs.BoolVar(&cfg.JSON, "json", false, "Print reports as a JSON array")
	fs.BoolVar(&cfg.Windows, "windows", false, "Compute accelerometer window features")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "Print one line per recording and no progress logs")
	fs.IntVar(&cfg.Workers, "workers", -1, "Recordings validated in parallel (0 = one per CPU, default from config)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tracecheck [flags] recording.json...\n")
		fmt.Fprintf(stderr, "       tracecheck -db reports.db migrate <command>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Args = fs.Args()

	if cfg.ServerURL != "" && (cfg.DBPath != "" || cfg.PlotDir != "" || cfg.Windows) {
		return cfg, errors.New("-server cannot be combined with -db, -plots or -windows")
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "tracecheck: %v\n", err)
		return exitUsage
	}

	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "tracecheck %s\n", version.Current())
		return exitOK
	}

	if len(cfg.Args) > 0 && cfg.Args[0] == "migrate" {
		if cfg.DBPath == "" {
			fmt.Fprintln(stderr, "tracecheck: migrate needs -db")
			return exitUsage
		}
		if err := db.RunMigrateCommand(stdout, cfg.Args[1:], cfg.DBPath); err != nil {
			fmt.Fprintf(stderr, "tracecheck: %v\n", err)
			return exitRejected
		}
		return exitOK
	}

	if len(cfg.Args) == 0 {
		fmt.Fprintln(stderr, "tracecheck: no recordings given")
		return exitUsage
	}

	checker, err := newChecker(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "tracecheck: %v\n", err)
		return exitUsage
	}
	defer checker.Close()

	start := time.Now()
	results, err := checker.CheckAll(ctx, cfg.Args)
	if err != nil {
		fmt.Fprintf(stderr, "tracecheck: %v\n", err)
		return exitRejected
	}
	if !cfg.Quiet {
		log.Printf("checked %d recording(s) in %v", len(results), time.Since(start).Round(time.Millisecond))
	}

	if err := printResults(stdout, results, cfg); err != nil {
		fmt.Fprintf(stderr, "tracecheck: %v\n", err)
		return exitRejected
	}
	for _, r := range results {
		if !r.Accepted() {
			return exitRejected
		}
	}
	return exitOK
}
