package calib

import (
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultClientID      = "radarcal"
	defaultPublishPrefix = "radarcal"
)

// ParamsHandler is called with the raw JSON payload of a remote parameter update
type ParamsHandler func(payload []byte)

// MQTTClient manages the broker connection used to publish calibration results
// and receive parameter updates on <prefix>/params/set.
type MQTTClient struct {
	client        mqtt.Client
	prefix        string
	paramsHandler ParamsHandler
	isConnected   bool
	done          chan struct{}
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// resolve returns the first non-empty value
func resolve(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PublishPrefix returns the topic prefix from MQTT_PUBLISH_PREFIX, the config, or the default
func PublishPrefix(config *Config) string {
	var fromConfig string
	if config != nil {
		fromConfig = config.MQTT.PublishPrefix
	}
	return resolve(os.Getenv("MQTT_PUBLISH_PREFIX"), fromConfig, defaultPublishPrefix)
}

// ClientOptions builds paho options from environment variables, falling back to
// the config. It returns nil when no broker is configured.
func ClientOptions(config *Config) *mqtt.ClientOptions {
	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}

	broker := resolve(os.Getenv("MQTT_BROKER"), mc.Broker)
	if broker == "" {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(resolve(os.Getenv("MQTT_CLIENT_ID"), mc.ClientID, defaultClientID))

	if username := resolve(os.Getenv("MQTT_USERNAME"), mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(resolve(os.Getenv("MQTT_PASSWORD"), mc.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Parameter handlers publish and wait for acknowledgement; they must not
	// run on the router goroutine that delivers those acknowledgements.
	opts.SetOrderMatters(false)
	return opts
}

// ConnectMQTT creates a client and connects in the background.
// If no broker is configured MQTT is disabled and this returns nil, nil.
func ConnectMQTT(config *Config, handler ParamsHandler) (*MQTTClient, error) {
	opts := ClientOptions(config)
	if opts == nil {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	c := &MQTTClient{
		prefix:        PublishPrefix(config),
		paramsHandler: handler,
		done:          make(chan struct{}),
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})
	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()
	return c, nil
}

// newMQTTClientWithMock wraps an existing mqtt.Client, used with MockClient in tests
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler ParamsHandler) *MQTTClient {
	return &MQTTClient{
		client:        client,
		prefix:        prefix,
		paramsHandler: handler,
		done:          make(chan struct{}),
	}
}

// connectWithRetry attempts to connect with exponential backoff until
// connected or disconnected
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		select {
		case <-c.done:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// ParamsTopic is the topic remote nodes publish parameter updates to
func (c *MQTTClient) ParamsTopic() string {
	return c.prefix + "/params/set"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.paramsHandler == nil {
		return
	}

	topic := c.ParamsTopic()
	token := client.Subscribe(topic, 1, c.handleParams)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] subscribed to %s", topic)
}

func (c *MQTTClient) handleParams(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] received parameter update (topic: %s, size: %d bytes)", msg.Topic(), len(payload))
	if c.paramsHandler != nil {
		c.paramsHandler(payload)
	}
}

// onConnectionLost is a transient event; auto-reconnect will retry
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops any pending retries and closes the connection
func (c *MQTTClient) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// Prefix returns the topic prefix in use
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
