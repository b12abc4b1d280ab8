package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/schooldocs-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// defaultOpTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	defaultOpTimeout = 5 * time.Second

	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions maps the mqtt config section onto paho options.
// Sessions are clean; tracked subscriptions are restored by the client
// itself on reconnect.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// StatusPayload is the retained message on the system status topic.
type StatusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload encodes a status message stamped with the current time.
func buildStatusPayload(status, clientID, reason string) []byte {
	data, _ := json.Marshal(StatusPayload{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// configureLWT registers the broker-published offline message used when
// this instance disappears without a graceful Close.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload := buildStatusPayload("offline", clientID, "unexpected_disconnect")
	opts.SetBinaryWill(topics.SystemStatus(), payload, 1, true)
}
