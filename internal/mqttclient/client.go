// Package mqttclient wraps eclipse/paho.mqtt.golang with auto-reconnect and
// the TCP/WebSocket transport and TLS selection spec.md §6 requires.
package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler receives every inbound message. It runs on paho's own
// callback goroutine — the Ingest Dispatcher's HandleMessage is wired here
// directly (spec.md §4.E "runs in the MQTT client's callback thread").
type MessageHandler func(topic string, payload []byte)

// Client wraps a connected paho client with subscribe-on-connect and
// reconnect bookkeeping.
type Client struct {
	conn      mqtt.Client
	topics    []string
	connected atomic.Bool
	log       zerolog.Logger
	handler   MessageHandler
}

// Options configures Connect. Transport selects "tcp" (default) or "ws";
// WSPath is appended to BrokerURL's host when Transport is "ws" and
// BrokerURL doesn't already carry a ws:// / wss:// scheme.
type Options struct {
	BrokerURL string
	ClientID  string
	Topics    string
	Username  string
	Password  string

	Transport string // "tcp" | "ws"
	WSPath    string

	TLSEnabled     bool
	TLSCAFile      string
	TLSInsecure    bool

	Log zerolog.Logger
}

// Connect dials the broker and blocks until the initial connection succeeds
// or fails; subsequent reconnects happen automatically in the background.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		topics: parseTopics(opts.Topics),
		log:    opts.Log,
	}

	broker, err := resolveBrokerURL(opts)
	if err != nil {
		return nil, err
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	if opts.TLSEnabled {
		tlsConfig, err := buildTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// resolveBrokerURL rewrites the broker URL's scheme for the ws transport:
// an explicit ws:// or wss:// URL is left untouched, an ssl:// or tls://
// scheme becomes wss://, any other scheme (or none) becomes ws://, and
// WSPath (default /mqtt) is appended. Other transports return BrokerURL as-is.
func resolveBrokerURL(opts Options) (string, error) {
	if opts.Transport != "ws" {
		return opts.BrokerURL, nil
	}
	if strings.HasPrefix(opts.BrokerURL, "ws://") || strings.HasPrefix(opts.BrokerURL, "wss://") {
		return opts.BrokerURL, nil
	}

	scheme := "ws"
	rest := opts.BrokerURL
	if i := strings.Index(rest, "://"); i >= 0 {
		if strings.HasPrefix(rest[:i], "ssl") || strings.HasPrefix(rest[:i], "tls") {
			scheme = "wss"
		}
		rest = rest[i+3:]
	}
	path := opts.WSPath
	if path == "" {
		path = "/mqtt"
	}
	return fmt.Sprintf("%s://%s%s", scheme, rest, path), nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: opts.TLSInsecure}
	if opts.TLSCAFile == "" {
		return cfg, nil
	}
	caPEM, err := os.ReadFile(opts.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("read MQTT_TLS_CA_FILE: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("MQTT_TLS_CA_FILE contains no valid certificates")
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// SetMessageHandler installs h as the sole message callback.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler = h
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Strs("topics", c.topics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = 0 // QoS 0, per spec.md §6
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if c.handler != nil {
		c.handler(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// IsConnected reports the client's last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close disconnects, waiting up to 1s for in-flight work to settle.
func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{"meshcore/#"}
	}
	return topics
}
