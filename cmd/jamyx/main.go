package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/jamyx"
	"github.com/opd-ai/jamyx/audio"
	"github.com/opd-ai/jamyx/audio/memgraph"
	"github.com/opd-ai/jamyx/config"
	"github.com/opd-ai/jamyx/reconcile"
)

// CLIConfig holds the parsed command-line flags.
type CLIConfig struct {
	configPath  string
	listen      string
	httpAddr    string
	retryDelay  time.Duration
	clientName  string
	bufferSize  int
	sampleRate  int
	systemPorts int
	logLevel    string
	logFile     string
	verbose     bool
}

// parseCLIFlags parses args into a configuration.
func parseCLIFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet("jamyx", flag.ContinueOnError)

	fs.StringVar(&cfg.configPath, "config", "config.json", "Configuration file (JSON, or YAML by extension)")
	fs.StringVar(&cfg.listen, "listen", jamyx.DefaultListenAddress, "Control protocol address")
	fs.StringVar(&cfg.httpAddr, "http", jamyx.DefaultHTTPAddress, "WebSocket and metrics address (empty disables)")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", reconcile.DefaultRetryDelay, "Delay before a rejected connect is retried")

	fs.StringVar(&cfg.clientName, "client-name", "jamyx", "Audio client name")
	fs.IntVar(&cfg.bufferSize, "buffer-size", memgraph.DefaultBufferSize, "Frames per block")
	fs.IntVar(&cfg.sampleRate, "sample-rate", memgraph.DefaultSampleRate, "Sample rate in Hz")
	fs.IntVar(&cfg.systemPorts, "system-ports", 2, "Number of system capture and playback ports")

	fs.StringVar(&cfg.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&cfg.logFile, "log-file", "", "Log file path (default: stderr)")
	fs.BoolVar(&cfg.verbose, "v", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cfg *CLIConfig) error {
	if cfg.listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if cfg.clientName == "" || strings.Contains(cfg.clientName, ":") {
		return fmt.Errorf("invalid client name %q", cfg.clientName)
	}
	if cfg.bufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if cfg.sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if cfg.systemPorts < 0 {
		return fmt.Errorf("system ports cannot be negative")
	}
	if cfg.retryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if _, err := parseLogLevel(cfg.logLevel); err != nil {
		return err
	}
	return nil
}

func parseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return logrus.DebugLevel, nil
	case "INFO":
		return logrus.InfoLevel, nil
	case "WARN", "WARNING":
		return logrus.WarnLevel, nil
	case "ERROR":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level %q", s)
}

// setupLogging applies the level and output. The returned closer releases a
// log file, if one was opened.
func setupLogging(cfg *CLIConfig) (io.Closer, error) {
	level, err := parseLogLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	if cfg.verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.logFile == "" {
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

// loadConfig reads the startup configuration. A missing default file yields
// an empty configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == "config.json" {
		logrus.WithFields(logrus.Fields{
			"function": "loadConfig",
			"path":     path,
		}).Warn("Configuration file not found, starting empty")
		return config.New(), nil
	}
	return cfg, err
}

// newAudioServer creates the in-process graph with system ports.
func newAudioServer(cfg *CLIConfig) (*memgraph.Server, error) {
	srv := memgraph.New(cfg.clientName,
		memgraph.WithBufferSize(cfg.bufferSize),
		memgraph.WithSampleRate(cfg.sampleRate))

	for i := 1; i <= cfg.systemPorts; i++ {
		if _, err := srv.AddPort(fmt.Sprintf("system:capture_%d", i), audio.IsOutput); err != nil {
			return nil, err
		}
		if _, err := srv.AddPort(fmt.Sprintf("system:playback_%d", i), audio.IsInput); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

// setupSignalHandling cancels on SIGINT/SIGTERM and restarts the graph on SIGHUP.
func setupSignalHandling(ctx context.Context, cancel context.CancelFunc, srv *memgraph.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					srv.Restart()
					continue
				}
				logrus.WithFields(logrus.Fields{
					"function": "setupSignalHandling",
					"signal":   sig.String(),
				}).Info("Received signal, shutting down")
				cancel()
				return
			}
		}
	}()
}

// run wires the daemon and blocks until ctx is done.
func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	srv, err := newAudioServer(cli)
	if err != nil {
		return err
	}

	opts := jamyx.NewOptions()
	opts.ListenAddress = cli.listen
	opts.HTTPAddress = cli.httpAddr
	opts.RetryDelay = cli.retryDelay

	j, err := jamyx.New(cfg, srv, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	setupSignalHandling(ctx, cancel, srv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return j.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	cli, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := validateCLIConfig(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	closer, err := setupLogging(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(context.Background(), cli); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Daemon failed")
		closer.Close()
		os.Exit(1)
	}
}
