package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/pgcdc/internal/engine"
	"github.com/ajitpratap0/pgcdc/pkg/config"
	jsonpool "github.com/ajitpratap0/pgcdc/pkg/json"
	"github.com/ajitpratap0/pgcdc/pkg/observability"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

var version = "0.1.0"

// descriptorJSON is the printable form of a parsed type descriptor.
type descriptorJSON struct {
	Input     string   `json:"input"`
	Schema    string   `json:"schema,omitempty"`
	BaseType  string   `json:"base_type"`
	FullType  string   `json:"full_type"`
	Name      string   `json:"name"`
	OID       uint32   `json:"oid,omitempty"`
	IsArray   bool     `json:"is_array"`
	Optional  bool     `json:"optional"`
	Modifiers []string `json:"modifiers,omitempty"`
	Length    *int     `json:"length,omitempty"`
	Scale     *int     `json:"scale,omitempty"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "pgcdc",
		Short: "pgcdc - PostgreSQL change data capture to Kafka",
		Long: `pgcdc streams PostgreSQL logical replication changes to Kafka.
It decodes pgoutput or wal2json replication messages into structured change
events and delivers them with checkpointed, at-least-once semantics.`,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pgcdc v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// Parse command: inspect how column type strings are interpreted
	var columnName string
	var optional, pretty bool

	parseCmd := &cobra.Command{
		Use:   "parse <type> [<type>...]",
		Short: "Parse column type strings into structured metadata",
		Long: `Parse one or more column type strings as they appear in logical
decoding output and print the structured interpretation as JSON.

Example:
  pgcdc parse "numeric(12,3)" "geometry(MultiPolygon,4326)" "int[]"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return parseTypes(args, columnName, optional, pretty)
		},
	}

	parseCmd.Flags().StringVar(&columnName, "column", "column", "Column name carried on parse errors")
	parseCmd.Flags().BoolVar(&optional, "optional", false, "Mark the column as nullable")
	parseCmd.Flags().BoolVar(&pretty, "pretty", true, "Pretty-print the JSON output")

	root.AddCommand(parseCmd)

	// Stream command: run the replication pipeline
	var configFile, logLevel string

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream replication changes to Kafka",
		Long: `Stream replication changes to Kafka using the given pipeline
configuration. The pipeline runs until interrupted and resumes from its
last committed checkpoint on restart.

Example:
  pgcdc stream --config pgcdc.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(configFile, logLevel)
		},
	}

	streamCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline configuration YAML file (required)")
	streamCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	_ = streamCmd.MarkFlagRequired("config")

	root.AddCommand(streamCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseTypes parses each raw type string and streams the results to
// stdout as a JSON array.
func parseTypes(rawTypes []string, columnName string, optional, pretty bool) error {
	encoder := jsonpool.NewStreamingEncoder(os.Stdout, true)
	if pretty {
		encoder.SetPretty(true, "  ")
	}

	registry := pgoid.DefaultRegistry()

	for _, raw := range rawTypes {
		desc, err := typemeta.Parse(columnName, raw, optional)
		if err != nil {
			_ = encoder.Close()
			return err
		}

		view := descriptorJSON{
			Input:     raw,
			Schema:    desc.Schema(),
			BaseType:  desc.BaseType(),
			FullType:  desc.FullType(),
			Name:      desc.Name(),
			IsArray:   desc.IsArray(),
			Optional:  desc.IsOptional(),
			Modifiers: desc.Modifiers(),
		}
		if length, ok := desc.Length(); ok {
			view.Length = &length
		}
		if scale, ok := desc.Scale(); ok {
			view.Scale = &scale
		}
		if oid, err := registry.Resolve(desc.Name()); err == nil {
			view.OID = uint32(oid)
		}

		if err := encoder.Encode(view); err != nil {
			_ = encoder.Close()
			return fmt.Errorf("failed to encode descriptor: %w", err)
		}
	}

	return encoder.Close()
}

// runStream loads the pipeline configuration and runs the engine until
// a shutdown signal arrives.
func runStream(configFile, logLevel string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}

	level, err := zapcore.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Observability.LogLevel, err)
	}

	obsConfig := observability.DefaultConfig()
	obsConfig.Tracing.ServiceName = cfg.Name
	obsConfig.Tracing.ServiceVersion = version
	obsConfig.Tracing.Environment = cfg.Environment
	obsConfig.Tracing.SamplingRate = cfg.Observability.TracingSampleRate
	if !cfg.Observability.EnableTracing {
		obsConfig.Tracing.SamplingRate = 0
	}
	obsConfig.Logging.Level = level

	if err := observability.Initialize(obsConfig); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	log := observability.GetLogger().With(
		zap.String("component", "pgcdc-cli"),
		zap.String("pipeline", cfg.Name),
	)

	e, err := engine.New(cfg, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to build pipeline engine: %w", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline engine: %w", err)
	}

	log.Info("streaming changes",
		zap.String("config", configFile),
		zap.String("database", cfg.Source.Database),
		zap.Strings("tables", cfg.Source.Tables),
		zap.Strings("brokers", cfg.Kafka.Brokers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	if err := e.Stop(); err != nil {
		log.Error("failed to stop pipeline engine", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := observability.Shutdown(shutdownCtx); err != nil {
		log.Warn("observability shutdown incomplete", zap.Error(err))
	}

	return nil
}
