package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/ritstream/internal/codec"
	"github.com/basekick-labs/ritstream/internal/logger"
	"github.com/basekick-labs/ritstream/internal/mqtt"
	"github.com/basekick-labs/ritstream/internal/shutdown"
)

// runVerifySubcommand handles the "verify" subcommand: it subscribes to the
// configured topic, decodes every document and checks that row sequences keep
// increasing across messages.
func runVerifySubcommand(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a config file")
	count := fs.Int("count", 0, "Stop after this many messages (0 = until interrupted)")
	idle := fs.Duration("idle", 0, "Stop when no message arrives for this long (0 = never)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		return 1
	}

	cfg, ok := loadConfig(*configFile)
	if !ok {
		return 1
	}

	coordinator := shutdown.New(shutdownTimeout, logger.Get("shutdown"))
	ctx, stop := coordinator.SignalContext(context.Background())
	defer stop()

	opts := cfg.MQTTOptions()
	opts.ClientID += "_verify"
	mqttLogger := logger.Get("mqtt")
	sub, err := mqtt.NewSink(opts, &connectionLogger{logger: mqttLogger}, mqttLogger)
	if err != nil {
		return exitWithError(coordinator, &mqtt.ConnectError{Broker: opts.Broker, Err: err})
	}
	coordinator.Register("mqtt-verify", sub, shutdown.PrioritySink)
	if err := sub.Connect(ctx); err != nil {
		return exitWithError(coordinator, err)
	}

	v := newVerifier(*count, logger.Get("verify"))
	if err := sub.Subscribe(ctx, cfg.MQTT.Topic, mqtt.QoSAtLeastOnce, v.handle); err != nil {
		return exitWithError(coordinator, err)
	}

	v.wait(ctx, *idle)
	report := v.report()
	log.Info().
		Int("messages", report.Messages).
		Int("rows", report.Rows).
		Int("decode_errors", report.DecodeErrors).
		Int("out_of_order", report.OutOfOrder).
		Msg("Verification finished")

	if err := coordinator.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Shutdown finished with errors")
	}
	if report.DecodeErrors > 0 || report.OutOfOrder > 0 {
		return 1
	}
	return 0
}

type verifyReport struct {
	Messages     int
	Rows         int
	DecodeErrors int
	OutOfOrder   int
}

// verifier accumulates decode results from the subscription callback.
type verifier struct {
	limit  int
	logger zerolog.Logger

	mu      sync.Mutex
	r       verifyReport
	lastSeq int64
	seen    bool

	activity chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newVerifier(limit int, logger zerolog.Logger) *verifier {
	return &verifier{
		limit:    limit,
		logger:   logger,
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (v *verifier) handle(topic string, payload []byte) {
	env, err := codec.Decode(payload)

	v.mu.Lock()
	v.r.Messages++
	if err != nil {
		v.r.DecodeErrors++
		v.logger.Error().Err(err).Str("topic", topic).Int("bytes", len(payload)).Msg("Failed to decode document")
	} else {
		v.r.Rows += len(env.Rows)
		for _, row := range env.Rows {
			// QoS 1 may redeliver, so a repeated sequence is not an ordering error.
			if v.seen && row.Sequence < v.lastSeq {
				v.r.OutOfOrder++
			}
			v.lastSeq = row.Sequence
			v.seen = true
		}
		first, last := int64(0), int64(0)
		if n := len(env.Rows); n > 0 {
			first, last = env.Rows[0].Sequence, env.Rows[n-1].Sequence
		}
		v.logger.Debug().
			Int("rows", len(env.Rows)).
			Int64("first_sequence", first).
			Int64("last_sequence", last).
			Int("bytes", len(payload)).
			Msg("Document received")
	}
	reached := v.limit > 0 && v.r.Messages >= v.limit
	v.mu.Unlock()

	select {
	case v.activity <- struct{}{}:
	default:
	}
	if reached {
		v.doneOnce.Do(func() { close(v.done) })
	}
}

// wait blocks until the message limit, the idle timeout or ctx.
func (v *verifier) wait(ctx context.Context, idle time.Duration) {
	var idleC <-chan time.Time
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		idleC = timer.C
	}

	for {
		select {
		case <-v.done:
			return
		case <-ctx.Done():
			return
		case <-idleC:
			v.logger.Info().Dur("idle", idle).Msg("No messages received, stopping")
			return
		case <-v.activity:
			if timer != nil {
				timer.Reset(idle)
			}
		}
	}
}

func (v *verifier) report() verifyReport {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.r
}
