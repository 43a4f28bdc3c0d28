package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Sink publishes encoded documents to an MQTT broker.
// A Publish call returns only after the broker acknowledged the message
// (PUBACK for QoS 1) or the attempt failed. Redelivery of in-flight
// messages after a reconnect is left to the paho client.
type Sink struct {
	opts    Options
	client  pahomqtt.Client
	handler EventHandler
	logger  zerolog.Logger

	mu        sync.RWMutex
	connected bool

	published  atomic.Int64
	failed     atomic.Int64
	bytesSent  atomic.Int64
	reconnects atomic.Int64
}

// SinkStats is a snapshot of the sink counters.
type SinkStats struct {
	Published  int64
	Failed     int64
	BytesSent  int64
	Reconnects int64
}

// NewSink builds a sink for opts. A nil handler means NopEventHandler.
func NewSink(opts Options, handler EventHandler, logger zerolog.Logger) (*Sink, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := newSink(opts, nil, handler, logger)
	clientOpts, err := s.buildClientOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to build client options: %w", err)
	}
	s.client = pahomqtt.NewClient(clientOpts)
	return s, nil
}

func newSink(opts Options, client pahomqtt.Client, handler EventHandler, logger zerolog.Logger) *Sink {
	if handler == nil {
		handler = NopEventHandler{}
	}
	return &Sink{
		opts:    opts,
		client:  client,
		handler: handler,
		logger:  logger.With().Str("component", "mqtt-sink").Str("client_id", opts.ClientID).Logger(),
	}
}

// Connect dials the broker and waits for the CONNACK.
func (s *Sink) Connect(ctx context.Context) error {
	s.logger.Info().Str("broker", s.opts.Broker).Msg("Connecting to MQTT broker")

	token := s.client.Connect()
	if err := waitToken(ctx, token, time.Duration(s.opts.ConnectTimeoutSeconds)*time.Second); err != nil {
		return &ConnectError{Broker: s.opts.Broker, Err: err}
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Publish sends payload to topic and blocks until the broker confirms it.
// The sink never retries: a failure here is final for the caller.
func (s *Sink) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return &PublishError{Topic: topic, Size: len(payload), Err: ErrNotConnected}
	}

	token := s.client.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token, time.Duration(s.opts.PublishTimeoutSeconds)*time.Second); err != nil {
		s.failed.Add(1)
		return &PublishError{Topic: topic, Size: len(payload), Err: err}
	}

	s.published.Add(1)
	s.bytesSent.Add(int64(len(payload)))
	s.handler.OnDeliveryComplete(topic, len(payload))
	return nil
}

// waitToken waits for token completion, a timeout (if positive) or ctx.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-expired:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for messages on topic. Only the verify tooling
// uses it; the pipeline itself is publish-only.
func (s *Sink) Subscribe(ctx context.Context, topic string, qos byte, fn func(topic string, payload []byte)) error {
	token := s.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	if err := waitToken(ctx, token, time.Duration(s.opts.ConnectTimeoutSeconds)*time.Second); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", topic, err)
	}
	s.logger.Info().Str("topic", topic).Int("qos", int(qos)).Msg("Subscribed to topic")
	return nil
}

// Close disconnects, giving in-flight acknowledgements the quiesce period.
func (s *Sink) Close() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if !wasConnected {
		return nil
	}

	if s.client.IsConnected() {
		s.client.Disconnect(s.opts.DisconnectQuiesceMS)
	}

	s.logger.Info().
		Int64("published", s.published.Load()).
		Int64("failed", s.failed.Load()).
		Int64("bytes_sent", s.bytesSent.Load()).
		Msg("Disconnected from MQTT broker")
	return nil
}

// Stats returns current counters
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Published:  s.published.Load(),
		Failed:     s.failed.Load(),
		BytesSent:  s.bytesSent.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// buildClientOptions creates paho client options from the sink options
func (s *Sink) buildClientOptions() (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(s.opts.Broker)
	opts.SetClientID(s.opts.ClientID)

	opts.SetKeepAlive(time.Duration(s.opts.KeepAliveSeconds) * time.Second)
	opts.SetConnectTimeout(time.Duration(s.opts.ConnectTimeoutSeconds) * time.Second)
	opts.SetWriteTimeout(time.Duration(s.opts.PublishTimeoutSeconds) * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Duration(s.opts.ReconnectMaxSeconds) * time.Second)
	opts.SetCleanSession(true)

	if s.opts.Username != "" {
		opts.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		opts.SetPassword(s.opts.Password)
	}

	if s.opts.TLSEnabled {
		tlsConfig, err := s.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	return opts, nil
}

// buildTLSConfig creates TLS configuration
func (s *Sink) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.opts.TLSInsecureSkipVerify,
	}

	if s.opts.TLSCAPath != "" {
		caCert, err := os.ReadFile(s.opts.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if s.opts.TLSCertPath != "" && s.opts.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.opts.TLSCertPath, s.opts.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (s *Sink) onConnect(_ pahomqtt.Client) {
	s.logger.Debug().Msg("MQTT connection established")
	s.handler.OnConnect()
}

func (s *Sink) onConnectionLost(_ pahomqtt.Client, err error) {
	s.logger.Debug().Err(err).Msg("MQTT connection lost")
	s.handler.OnConnectionLost(err)
}

func (s *Sink) onReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	s.reconnects.Add(1)
	s.logger.Debug().Int64("reconnect_count", s.reconnects.Load()).Msg("Attempting to reconnect to MQTT broker")
	s.handler.OnReconnecting()
}
