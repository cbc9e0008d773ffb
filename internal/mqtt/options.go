package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// Milliseconds paho waits for in-flight work on Disconnect.
	defaultDisconnectQuiesce = 1000

	maxQoS         = 2
	maxPayloadSize = 1 << 20
	tlsMinVersion  = tls.VersionTLS12
)

// Payloads of the bridge status topic. Home Assistant's availability
// defaults expect exactly these strings.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// brokerURL is tcp://host:port, or ssl:// when TLS is on.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// buildClientOptions maps our config onto paho options: broker URL, client
// id, credentials, clean session, auto-reconnect with the configured
// backoff bounds, keepalive and TLS.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	initial, maxDelay := cfg.ReconnectDelays()

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(initial)
	opts.SetMaxReconnectInterval(maxDelay)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT makes the broker publish "offline" on the bridge status
// topic (QoS 1, retained) if we vanish without a clean Close.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics) {
	opts.SetWill(topics.BridgeStatus(), StatusOffline, 1, true)
}
