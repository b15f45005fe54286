package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/doridoridoriand/tunnelwatch/internal/cli"
	"github.com/doridoridoriand/tunnelwatch/internal/config"
	tlog "github.com/doridoridoriand/tunnelwatch/internal/log"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tunnelwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var flags cli.Flags
	flags.Register(fs)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: tunnelwatch [options] [config-file]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.Version {
		fmt.Fprintf(stdout, "tunnelwatch version %s\n", version)
		return 0
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}
	configPath := fs.Arg(0)

	cfg, err := config.Load(configPath, flags.Overrides())
	if err != nil {
		// The configured level and destination are unknown, so report on stderr at info.
		tlog.LogConfigLoad(tlog.NewLogger(tlog.LevelInfo, stderr), false, configPath, err)
		return 1
	}

	// The dashboard owns the terminal, so logs move to a file while it runs.
	logOut := stderr
	if cfg.UI.Enable && !flags.Once {
		f, err := tlog.OpenFile(cfg.Log.File)
		if err != nil {
			fmt.Fprintf(stderr, "failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := tlog.NewLogger(tlog.ParseLevel(cfg.Log.Level), logOut)
	defer func() { _ = logger.Sync() }()
	tlog.LogConfigLoad(logger, true, configPath, nil)

	a, err := newApp(cfg, logger)
	if err != nil {
		tlog.LogError(logger, "startup", err)
		return 1
	}
	defer a.Close()

	if flags.Once {
		if err := a.loop.RunOnce(ctx); err != nil {
			tlog.LogError(logger, "scheduler", err)
			return 1
		}
		return 0
	}

	a.Serve(ctx)
	return 0
}
