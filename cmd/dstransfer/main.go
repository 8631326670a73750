package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dstransfer/pkg/client"
	"dstransfer/pkg/config"
	"dstransfer/pkg/journal"
	"dstransfer/pkg/metrics"
	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "1.0.0"

var (
	configFile   string
	endpointFile string
	verbose      bool
	showProgress bool
	outputFormat string
	noJournal    bool
	metricsFile  string
)

// exitError carries the process exit code for a failed transfer.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a transfer outcome to the process exit status.
func exitCode(outcome types.Outcome) int {
	switch outcome {
	case types.OutcomeSuccess:
		return 0
	case types.OutcomeChecksumMismatch:
		return 2
	case types.OutcomeMetadataError:
		return 4
	default:
		return 3
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dstransfer",
		Short: "Move datastreams in and out of a Fedora repository with fixity checks",
		Long: `dstransfer downloads and uploads Fedora Commons 3 datastreams and plain WebDAV
files, verifying every transfer against the repository's recorded checksum.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "styled" && outputFormat != "json" {
				return fmt.Errorf("invalid --output %q (expected styled or json)", outputFormat)
			}
			// A missing .env is normal.
			_ = godotenv.Load()
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&endpointFile, "endpoint", "", "legacy .properties file for the repository endpoint")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&showProgress, "progress", false, "show transfer progress bars")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "styled", "output format (styled, json)")
	rootCmd.PersistentFlags().BoolVar(&noJournal, "no-journal", false, "do not record results in the journal")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(
		recoverCmd(),
		postCmd(),
		webdavCmd(),
		checksumCmd(),
		manifestCmd(),
		historyCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dstransfer v%s\n", version)
			fmt.Printf("checksums: %v\n", storage.SupportedAlgorithms())
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}

// app holds what every transfer command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	verifier *storage.Verifier
	journal  *journal.Journal
	bars     *progressTracker
	registry *prometheus.Registry
	metrics  *metrics.TransferMetrics
}

func newApp(withJournal bool) (*app, error) {
	logger := setupLogger(verbose)

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if endpointFile != "" {
		settings, err := config.LoadEndpointFile(endpointFile)
		if err != nil {
			return nil, err
		}
		cfg.Retrieval = settings
	}

	bufferSize, err := cfg.Transfer.BufferBytes()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	a := &app{
		cfg:      cfg,
		logger:   logger,
		verifier: storage.NewVerifier(bufferSize),
		bars:     newProgressTracker(showProgress),
		registry: registry,
		metrics:  metrics.NewTransferMetrics(registry),
	}

	if withJournal && !noJournal {
		path := cfg.Journal.Path
		if path == "" {
			path = filepath.Join(config.GetConfigDir(), "journal")
		}
		j, err := journal.Open(path, logger)
		if err != nil {
			logger.Warn("Journal unavailable, results will not be recorded", zap.String("path", path), zap.Error(err))
		} else {
			a.journal = j
		}
	}

	return a, nil
}

func (a *app) Close() {
	a.bars.Wait()
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile, a.registry); err != nil {
			a.logger.Warn("Failed to write metrics", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// recorder updates metrics and then the journal, when one is open.
func (a *app) recorder() types.Recorder {
	var next types.Recorder
	if a.journal != nil {
		next = a.journal
	}
	return metrics.NewRecorder(a.metrics, next, a.logger)
}

// engine builds a transfer engine reporting progress under name.
func (a *app) engine(name string) *storage.TransferEngine {
	bufferSize, _ := a.cfg.Transfer.BufferBytes()
	opts := []storage.Option{
		storage.WithBufferSize(bufferSize),
		storage.WithIdleTimeout(a.cfg.Transfer.IdleTimeout),
	}
	if fn := a.bars.Track(name); fn != nil {
		opts = append(opts, storage.WithProgress(fn))
	}
	return storage.NewTransferEngine(a.logger, opts...)
}

func (a *app) connector(settings config.EndpointSettings) (*client.Connector, error) {
	return client.NewConnector(settings, a.logger)
}

// report prints res and converts a failed outcome into an exitError.
func (a *app) report(res *types.TransferResult, err error) error {
	a.bars.Finish(res != nil && res.Succeeded())
	if res == nil {
		return err
	}
	if perr := printResult(res); perr != nil {
		a.logger.Warn("Failed to print result", zap.Error(perr))
	}
	if err != nil {
		return &exitError{code: exitCode(res.Outcome), err: err}
	}
	return nil
}
