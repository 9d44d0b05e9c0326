package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/GeorgeGarkavenko/guess/poller/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/poller/pkg/poller"
	"github.com/GeorgeGarkavenko/guess/poller/pkg/script"
	"github.com/GeorgeGarkavenko/guess/poller/pkg/server"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/logger"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFileFlag := flag.String("log-file", "", "also write logs to this file, rotated by size (or set LOG_FILE env var)")
	configFlag := flag.String("config", "", "YAML poller config file (or set POLLER_CONFIG env var)")
	statusFileFlag := flag.String("status-file", "", "status file written by the upstream upload")
	scriptFlag := flag.String("script", "", "import command to run once the upload is complete")
	sleepTimeFlag := flag.Duration("sleep-time", poller.DefaultSleepTime, "time to sleep between polls")
	msgCompleteFlag := flag.String("msg-complete", poller.DefaultMsgComplete, "first line of the status file that marks the upload complete")
	listenAddrFlag := flag.String("listen-addr", "", "address for the healthz/readyz/version/metrics server (or set LISTEN_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "maximum time to wait for the status server to stop")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("poller %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if env := os.Getenv("LOG_FILE"); env != "" {
		*logFileFlag = env
	}
	if env := os.Getenv("POLLER_CONFIG"); env != "" {
		*configFlag = env
	}
	if env := os.Getenv("LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	// The config file may also be given as the only argument.
	if *configFlag == "" && flag.NArg() == 1 {
		*configFlag = flag.Arg(0)
	}

	log, logCloser := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, File: *logFileFlag})
	defer logCloser.Close()

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     version,
		}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Explicit flags win over the config file.
	var fc poller.FileConfig
	if *configFlag != "" {
		var err error
		if fc, err = poller.LoadConfigFile(*configFlag); err != nil {
			return err
		}
	}
	statusFile := pick(*statusFileFlag, fc.StatusFile, flag.CommandLine.Changed("status-file"))
	command := pick(*scriptFlag, fc.Script, flag.CommandLine.Changed("script"))
	msgComplete := pick(*msgCompleteFlag, fc.MsgComplete, flag.CommandLine.Changed("msg-complete"))
	sleepTime := *sleepTimeFlag
	if !flag.CommandLine.Changed("sleep-time") && fc.SleepTime > 0 {
		sleepTime = time.Duration(fc.SleepTime) * time.Second
	}

	runner, err := script.New(script.Config{Logger: log, Command: command})
	if err != nil {
		return err
	}
	p, err := poller.New(poller.Config{
		Logger:      log,
		StatusFile:  statusFile,
		MsgComplete: msgComplete,
		SleepTime:   sleepTime,
		Runner:      runner,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, srvCancel := context.WithCancel(gctx)
	defer srvCancel()

	if *listenAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		srv, err := server.New(server.Config{
			Logger:          log,
			ListenAddr:      *listenAddrFlag,
			ShutdownTimeout: *shutdownTimeoutFlag,
			VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
			Ready:           p.Started,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(srvCtx) })
	}

	var res script.Result
	g.Go(func() error {
		defer srvCancel()
		var err error
		res, err = p.Run(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info("poller stopped", "reason", ctx.Err())
			return nil
		}
		return err
	}
	if !res.Success() {
		return fmt.Errorf("import script exited with code %d", res.ExitCode)
	}
	return nil
}

func pick(flagValue, fileValue string, flagSet bool) string {
	if flagSet || fileValue == "" {
		return flagValue
	}
	return fileValue
}
