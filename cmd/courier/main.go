package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gbPagano/courier/internal/compiler"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/courier"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/metrics"
	"github.com/gbPagano/courier/pkg/observability"
	"github.com/gbPagano/courier/pkg/record"

	// Register the built-in connectors
	_ "github.com/gbPagano/courier/pkg/connector/destinations/kafka"
	_ "github.com/gbPagano/courier/pkg/connector/sources/api"
	_ "github.com/gbPagano/courier/pkg/connector/sources/kafka"
)

var version = "0.1.0"

const defaultConfigFile = "courier.yaml"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "courier",
		Short: "Courier - declarative data movement between HTTP APIs and Kafka topics",
		Long: `Courier reads a declarative list of operations and runs each one as an
independent pipeline: relaying a Kafka topic, polling an HTTP endpoint on a
fixed interval, or fanning a polled record out to several topics.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-encoding", "", "Log encoding (json, console)")
	flags.String("metrics-address", "", "Address serving Prometheus metrics, e.g. :9090 (disabled when empty)")
	flags.Bool("tracing", false, "Export trace spans to stderr")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.encoding", flags.Lookup("log-encoding"))
	_ = v.BindPFlag("metrics.address", flags.Lookup("metrics-address"))
	_ = v.BindPFlag("tracing.enabled", flags.Lookup("tracing"))

	root.AddCommand(
		newVersionCmd(),
		newListCmd(),
		newValidateCmd(),
		newRunCmd(v),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Courier v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available connectors and record types",
		Run: func(cmd *cobra.Command, args []string) {
			printCatalog(cmd.OutOrStdout(), registry.GetRegistry(), record.Default())
		},
	}
}

func printCatalog(out io.Writer, reg *registry.Registry, types *record.Registry) {
	fmt.Fprintln(out, "Available Readers:")
	for _, tag := range reg.ListSources() {
		f, _ := reg.Source(tag)
		fmt.Fprintf(out, "  - %s (%s)%s\n", tag, f.Capability(), aliasSuffix(reg.SourceAliases(tag)))
	}
	fmt.Fprintln(out, "\nAvailable Writers:")
	for _, tag := range reg.ListDestinations() {
		fmt.Fprintf(out, "  - %s%s\n", tag, aliasSuffix(reg.DestinationAliases(tag)))
	}
	fmt.Fprintln(out, "\nRecord Types:")
	for _, name := range types.Names() {
		fmt.Fprintf(out, "  - %s\n", name)
	}
}

func aliasSuffix(aliases []string) string {
	if len(aliases) == 0 {
		return ""
	}
	return " [aliases: " + strings.Join(aliases, ", ") + "]"
}

func newValidateCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a spec file without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.Load(configFile)
			if err != nil {
				return err
			}
			plans, err := compiler.New(nil, nil).WithLogger(zap.NewNop()).Plan(spec)
			if err != nil {
				return fmt.Errorf("invalid spec %s:\n%w", configFile, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d operation(s) OK\n", configFile, len(plans))
			for _, p := range plans {
				fmt.Fprintf(out, "  - %s [%s] %s -> %d writer(s)", p.Name, p.Strategy, p.Source.Spec.Type, len(p.Sinks))
				if p.Period > 0 {
					fmt.Fprintf(out, " every %s", p.Period)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to the spec file (.yaml, .yml or .toml)")
	return cmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every operation in a spec file",
		Long: `Compile the spec file and run every operation until interrupted.

Example:
  courier run -c courier.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), configFile, settings)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to the spec file (.yaml, .yml or .toml)")
	return cmd
}

// run compiles configFile and supervises its operations until a signal
// arrives or an operation fails.
func run(parent context.Context, configFile string, settings config.Settings) error {
	if parent == nil {
		parent = context.Background()
	}

	if err := logger.Init(logger.Config{
		Level:       settings.Log.Level,
		Encoding:    settings.Log.Encoding,
		Development: settings.Log.Development,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "courier-cli"))

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        settings.Tracing.Enabled,
		ServiceName:    settings.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   settings.Tracing.SampleRate,
		Output:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	spec, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("compiling operations",
		zap.String("config", configFile),
		zap.Int("operations", len(spec.Operations)))
	ops, err := compiler.Compile(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", configFile, err)
	}

	c := courier.New(ops)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("failed to close connectors", zap.Error(err))
		}
	}()

	if settings.Metrics.Address != "" {
		go func() {
			if err := metrics.Serve(ctx, settings.Metrics.Address, settings.Metrics.Path, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	startTime := time.Now()
	err = c.Run(ctx)
	log.Info("courier exited", zap.Duration("uptime", time.Since(startTime)))
	return err
}
