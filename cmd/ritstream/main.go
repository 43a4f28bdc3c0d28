package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/basekick-labs/ritstream/internal/codec"
	"github.com/basekick-labs/ritstream/internal/config"
	"github.com/basekick-labs/ritstream/internal/logger"
	"github.com/basekick-labs/ritstream/internal/metrics"
	"github.com/basekick-labs/ritstream/internal/mqtt"
	"github.com/basekick-labs/ritstream/internal/pipeline"
	"github.com/basekick-labs/ritstream/internal/shutdown"
	"github.com/basekick-labs/ritstream/internal/source"
)

// Version is set at build time
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Check for subcommands before loading full config
	if len(os.Args) > 1 && os.Args[1] == "verify" {
		os.Exit(runVerifySubcommand(os.Args[2:]))
	}

	fs := flag.NewFlagSet("ritstream", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a config file (default: ritstream.toml in ., /etc/ritstream, $HOME/.ritstream)")
	showVersion := fs.Bool("version", false, "Print the version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	if *showVersion {
		fmt.Println(Version)
		return
	}

	os.Exit(run(*configFile))
}

// loadConfig loads, validates and applies the logging section.
func loadConfig(configFile string) (*config.Config, bool) {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return nil, false
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, true
}

func run(configFile string) int {
	cfg, ok := loadConfig(configFile)
	if !ok {
		return 1
	}

	runID := uuid.New().String()
	log.Logger = log.With().Str("run_id", runID).Logger()
	log.Info().
		Str("version", Version).
		Str("driver", cfg.Source.Driver).
		Str("table", cfg.Source.Table).
		Str("broker", cfg.MQTT.Broker).
		Str("topic", cfg.MQTT.Topic).
		Msg("Starting ritstream...")

	coordinator := shutdown.New(shutdownTimeout, logger.Get("shutdown"))
	ctx, stop := coordinator.SignalContext(context.Background())
	defer stop()

	driver, err := setup(ctx, cfg, coordinator)
	if err != nil {
		return exitWithError(coordinator, err)
	}

	summary, err := execute(ctx, cfg, driver, coordinator)
	if err != nil {
		return exitWithError(coordinator, err)
	}

	log.Info().
		Int64("batches", summary.CallCount).
		Int64("rows", summary.Rows).
		Msg("Run complete")

	if err := coordinator.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Shutdown finished with errors")
	}
	return 0
}

// rowSource is the storage side of a run.
type rowSource interface {
	pipeline.Source
	Count(ctx context.Context) (int64, error)
	Close() error
}

// publisher is the broker side of a run.
type publisher interface {
	pipeline.Sink
	Connect(ctx context.Context) error
	Close() error
	Stats() mqtt.SinkStats
}

// Collaborator constructors. Tests replace them.
var (
	openSource = func(ctx context.Context, cfg source.Config, logger zerolog.Logger) (rowSource, error) {
		return source.Open(ctx, cfg, logger)
	}
	newPublisher = func(opts mqtt.Options, handler mqtt.EventHandler, logger zerolog.Logger) (publisher, error) {
		return mqtt.NewSink(opts, handler, logger)
	}
)

// setup opens the source and connects the sink. Both are registered with the
// coordinator as soon as they exist, so a later failure still releases them.
func setup(ctx context.Context, cfg *config.Config, coordinator *shutdown.Coordinator) (*pipeline.Driver, error) {
	src, err := openSource(ctx, cfg.SourceOptions(), logger.Get("source"))
	if err != nil {
		return nil, err
	}
	coordinator.Register("source", src, shutdown.PrioritySource)

	if cfg.Source.Snapshot {
		log.Info().Bool("snapshot", true).Msg("Reading source inside a single read transaction")
	}
	if total, err := src.Count(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to count source rows")
	} else {
		log.Info().Int64("rows", total).Msg("Source rows")
	}

	mqttLogger := logger.Get("mqtt")
	opts := cfg.MQTTOptions()
	sink, err := newPublisher(opts, &connectionLogger{logger: mqttLogger}, mqttLogger)
	if err != nil {
		return nil, &mqtt.ConnectError{Broker: opts.Broker, Err: err}
	}
	coordinator.Register("mqtt-sink", sink, shutdown.PrioritySink)
	coordinator.RegisterHook("mqtt-sink-stats", func(context.Context) error {
		st := sink.Stats()
		mqttLogger.Info().
			Int64("published", st.Published).
			Int64("failed", st.Failed).
			Int64("bytes_sent", st.BytesSent).
			Int64("reconnects", st.Reconnects).
			Msg("MQTT sink totals")
		return nil
	}, shutdown.PrioritySinkStats)

	if err := sink.Connect(ctx); err != nil {
		return nil, err
	}

	enc, err := codec.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	var observer pipeline.Observer
	if cfg.Metrics.ListenAddr != "" {
		observer = metrics.PrometheusObserver{}
	}

	return pipeline.New(cfg.PipelineOptions(), src, enc, sink, observer, logger.Get("pipeline"))
}

// execute runs the driver and, when configured, the metrics endpoint.
// ctx must come from coordinator.SignalContext: the endpoint stops once the
// driver returns and triggers shutdown.
func execute(ctx context.Context, cfg *config.Config, driver *pipeline.Driver, coordinator *shutdown.Coordinator) (*metrics.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, logger.Get("metrics"))
		})
	}

	var summary *metrics.Summary
	g.Go(func() error {
		defer coordinator.TriggerShutdown()
		s, err := driver.Run(gctx)
		summary = s
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func exitWithError(coordinator *shutdown.Coordinator, err error) int {
	log.Error().
		Str("kind", pipeline.Kind(err)).
		Err(err).
		Msg("Run failed")

	if serr := coordinator.Shutdown(); serr != nil {
		log.Warn().Err(serr).Msg("Shutdown finished with errors")
	}
	return 1
}

// connectionLogger reports broker connection changes.
type connectionLogger struct {
	mqtt.NopEventHandler
	logger zerolog.Logger
}

func (l *connectionLogger) OnConnectionLost(err error) {
	l.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (l *connectionLogger) OnReconnecting() {
	l.logger.Info().Msg("Reconnecting to MQTT broker")
}
