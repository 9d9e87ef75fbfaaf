// Package cli implements the dtntrace command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/signalsfoundry/contact-traces/core"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/internal/observability"
	"github.com/signalsfoundry/contact-traces/trace"
	"github.com/signalsfoundry/contact-traces/trace/pebblestore"
)

// CLI holds the state shared by every command of one invocation.
type CLI struct {
	out    io.Writer
	errOut io.Writer

	configPath  string
	storePath   string
	metricsAddr string
	logLevel    string

	cfg        Config
	log        logging.Logger
	store      *trace.Store
	registry   *prometheus.Registry
	metrics    *observability.ConversionCollector
	metricsSrv *http.Server
	shutdown   func(context.Context) error
}

// New returns a CLI writing reports to out and logs to errOut.
func New(out, errOut io.Writer) *CLI {
	return &CLI{out: out, errOut: errOut}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "dtntrace",
		Short:        "dtntrace converts and summarizes time-varying contact traces",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "TOML configuration file")
	flags.StringVar(&c.storePath, "store", "", "Pebble trace store directory; conversions read their inputs from it (default: in memory, empty for every command)")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(c.listCommand())
	root.AddCommand(c.deleteCommand())
	root.AddCommand(c.componentsCommand())
	root.AddCommand(c.bufferCommand())
	root.AddCommand(c.reachableCommand())
	root.AddCommand(c.upperCommand())
	root.AddCommand(c.componentsReachableCommand())
	root.AddCommand(c.addingCommand())
	root.AddCommand(c.familyCommand())
	root.AddCommand(c.floodingCommand())
	root.AddCommand(c.dominatingCommand())
	root.AddCommand(c.movementCommand())
	root.AddCommand(c.orbitsCommand())
	root.AddCommand(c.recastCommand())
	root.AddCommand(c.presenceCommand())
	root.AddCommand(c.reportCommand())

	return root
}

// run sets up logging, metrics, tracing and the store around fn and
// releases them afterwards.
func (c *CLI) run(cmd *cobra.Command, fn func(ctx context.Context) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.setup(ctx); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.teardown(ctx)) }()

	ctx, log := logging.WithRunLogger(ctx, c.log)
	ctx = logging.ContextWithLogger(ctx, log)
	if err := fn(ctx); err != nil {
		if c.cfg.Store.Path == "" && errors.Is(err, trace.ErrTraceNotFound) {
			return fmt.Errorf("%w (no --store or [store] path set: each command starts with an empty in-memory store)", err)
		}
		return err
	}
	return nil
}

func (c *CLI) setup(ctx context.Context) error {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.storePath != "" {
		cfg.Store.Path = c.storePath
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	c.log = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: c.errOut})

	c.registry = prometheus.NewRegistry()
	c.metrics, err = observability.NewConversionCollector(c.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	opts := []trace.Option{trace.WithObserver(c.metrics), trace.WithLogger(c.log)}
	if cfg.Store.Path != "" {
		backend, err := pebblestore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		opts = append(opts, trace.WithBackend(backend))
	}
	c.store = trace.NewStore(opts...)

	if cfg.Metrics.Addr != "" {
		c.metricsSrv = c.serveMetrics(ctx, cfg.Metrics.Addr)
	}
	if cfg.Tracing.Enabled {
		c.shutdown, err = observability.InitTracing(ctx, cfg.Tracing, c.log)
		if err != nil {
			return multierr.Append(err, c.store.Close())
		}
	}
	return nil
}

func (c *CLI) teardown(ctx context.Context) error {
	var err error
	if c.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = multierr.Append(err, c.metricsSrv.Shutdown(shutdownCtx))
		cancel()
		c.metricsSrv = nil
	}
	observability.ShutdownWithTimeout(context.WithoutCancel(ctx), c.shutdown, c.log)
	c.shutdown = nil
	if c.store != nil {
		err = multierr.Append(err, c.store.Close())
		c.store = nil
	}
	return err
}

func (c *CLI) serveMetrics(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	c.log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// convert runs conv through core.Run. ctx already carries the run id.
func (c *CLI) convert(ctx context.Context, conv core.Converter) error {
	return core.Run(ctx, conv, c.log, c.metrics)
}

// int64Param returns the flag value when it was set and def otherwise.
func int64Param(cmd *cobra.Command, name string, def int64) (int64, error) {
	if !cmd.Flags().Changed(name) {
		return def, nil
	}
	return cmd.Flags().GetInt64(name)
}

func float64Param(cmd *cobra.Command, name string, def float64) (float64, error) {
	if !cmd.Flags().Changed(name) {
		return def, nil
	}
	return cmd.Flags().GetFloat64(name)
}

func uint64Param(cmd *cobra.Command, name string, def uint64) (uint64, error) {
	if !cmd.Flags().Changed(name) {
		return def, nil
	}
	return cmd.Flags().GetUint64(name)
}

func boolParam(cmd *cobra.Command, name string, def bool) (bool, error) {
	if !cmd.Flags().Changed(name) {
		return def, nil
	}
	return cmd.Flags().GetBool(name)
}
