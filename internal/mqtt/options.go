package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validation limits
const (
	MaxTopicLength  = 1024
	MaxClientIDLen  = 255
	MaxBrokerURLLen = 2048
)

// Defaults matching the in-flight data generator deployment.
const (
	DefaultBroker   = "tcp://localhost:1883"
	DefaultClientID = "ritdb_inflight_data_generator"
	DefaultTopic    = "ritdb"
	// QoSAtLeastOnce is the only delivery level the pipeline publishes with.
	QoSAtLeastOnce byte = 1
)

// Options describes the broker connection used by the sink.
type Options struct {
	Broker                string
	ClientID              string
	Username              string
	Password              string
	TLSEnabled            bool
	TLSCertPath           string
	TLSKeyPath            string
	TLSCAPath             string
	TLSInsecureSkipVerify bool
	KeepAliveSeconds      int
	ConnectTimeoutSeconds int
	// PublishTimeoutSeconds bounds the wait for a broker acknowledgement.
	PublishTimeoutSeconds int
	ReconnectMaxSeconds   int
	// DisconnectQuiesceMS is how long Close lets in-flight work finish.
	DisconnectQuiesceMS uint
}

// SetDefaults sets default values for optional fields
func (o *Options) SetDefaults() {
	if o.Broker == "" {
		o.Broker = DefaultBroker
	}
	if o.ClientID == "" {
		o.ClientID = DefaultClientID
	}
	if o.KeepAliveSeconds == 0 {
		o.KeepAliveSeconds = 60
	}
	if o.ConnectTimeoutSeconds == 0 {
		o.ConnectTimeoutSeconds = 30
	}
	if o.PublishTimeoutSeconds == 0 {
		o.PublishTimeoutSeconds = 30
	}
	if o.ReconnectMaxSeconds == 0 {
		o.ReconnectMaxSeconds = 60
	}
	if o.DisconnectQuiesceMS == 0 {
		o.DisconnectQuiesceMS = 1000
	}
}

// Validate validates the connection options
func (o *Options) Validate() error {
	if o.Broker == "" {
		return errors.New("broker is required")
	}
	if len(o.Broker) > MaxBrokerURLLen {
		return fmt.Errorf("broker URL exceeds %d characters", MaxBrokerURLLen)
	}
	if err := validateBrokerURL(o.Broker); err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	if o.ClientID == "" {
		return errors.New("client_id is required")
	}
	if len(o.ClientID) > MaxClientIDLen {
		return fmt.Errorf("client_id exceeds %d characters", MaxClientIDLen)
	}

	for _, path := range []string{o.TLSCertPath, o.TLSKeyPath, o.TLSCAPath} {
		if path != "" && strings.Contains(path, "..") {
			return errors.New("path traversal not allowed in certificate paths")
		}
	}
	if (o.TLSCertPath == "") != (o.TLSKeyPath == "") {
		return errors.New("tls_cert_path and tls_key_path must be set together")
	}

	if o.KeepAliveSeconds < 0 {
		return errors.New("keep_alive_seconds cannot be negative")
	}
	if o.ConnectTimeoutSeconds < 0 {
		return errors.New("connect_timeout_seconds cannot be negative")
	}
	if o.PublishTimeoutSeconds < 0 {
		return errors.New("publish_timeout_seconds cannot be negative")
	}
	if o.ReconnectMaxSeconds < 0 {
		return errors.New("reconnect_max_seconds cannot be negative")
	}

	return nil
}

// ValidateTopic checks a publish topic. Wildcards are not allowed when publishing.
func ValidateTopic(topic string) error {
	if topic == "" {
		return errors.New("empty topic not allowed")
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("topic exceeds %d characters", MaxTopicLength)
	}
	if strings.ContainsAny(topic, "+#") {
		return errors.New("wildcards are not allowed in a publish topic")
	}
	return nil
}

// validateBrokerURL validates the MQTT broker URL format
func validateBrokerURL(brokerURL string) error {
	validSchemes := []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"}

	hasValidScheme := false
	for _, scheme := range validSchemes {
		if strings.HasPrefix(brokerURL, scheme) {
			hasValidScheme = true
			break
		}
	}

	if !hasValidScheme {
		return fmt.Errorf("must start with one of: %v", validSchemes)
	}

	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return err
	}

	if parsed.Host == "" {
		return errors.New("host is required")
	}

	return nil
}
