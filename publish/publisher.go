package publish

import (
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"korg-throttle/throttle"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
	keepAlive         = 30 * time.Second

	qos byte = 1
)

// Options configures the broker connection
type Options struct {
	Broker   string // host:port or URL, tcp:// assumed
	ClientID string
	Topic    string
	Username string
	Password string
	Log      logrus.FieldLogger
}

// broker is the part of the paho client the publisher uses
type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors session snapshots to retained MQTT topics. It is a
// throttle.Observer and never blocks the control loop.
type Publisher struct {
	client broker
	topics Topics
	log    logrus.FieldLogger

	mu   sync.Mutex
	last *throttle.Snapshot
	wg   sync.WaitGroup
}

// BrokerURL adds the tcp scheme to a bare host:port
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func clientOptions(opts Options, topics Topics) *pahomqtt.ClientOptions {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(BrokerURL(opts.Broker))
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(connectTimeout)
	o.SetKeepAlive(keepAlive)
	o.SetWill(topics.Status(), statusOffline, qos, true)
	return o
}

// Connect opens the broker connection and announces the throttle online
func Connect(opts Options) (*Publisher, error) {
	if strings.Trim(opts.Topic, "/") == "" {
		return nil, ErrInvalidTopic
	}
	topics := Topics{Prefix: opts.Topic}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	o := clientOptions(opts, topics)
	o.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	client := pahomqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(client, topics, log)
	p.send(topics.Status(), []byte(statusOnline))
	log.Infof("publishing state to %s below %s", BrokerURL(opts.Broker), topics.Prefix)
	return p, nil
}

func newPublisher(client broker, topics Topics, log logrus.FieldLogger) *Publisher {
	return &Publisher{client: client, topics: topics, log: log}
}

// Observe publishes whatever changed since the last snapshot
func (p *Publisher) Observe(s throttle.Snapshot) {
	p.mu.Lock()
	msgs := changes(p.topics, p.last, s)
	p.last = &s
	p.mu.Unlock()

	for _, m := range msgs {
		p.send(m.topic, m.payload)
	}
}

func (p *Publisher) send(topic string, payload []byte) {
	token := p.client.Publish(topic, qos, true, payload)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warnf("%v: %s: timeout", ErrPublishFailed, topic)
			return
		}
		if err := token.Error(); err != nil {
			p.log.WithError(err).Warnf("%v: %s", ErrPublishFailed, topic)
		}
	}()
}

// Close marks the throttle offline and disconnects
func (p *Publisher) Close() error {
	p.send(p.topics.Status(), []byte(statusOffline))
	p.wg.Wait()
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
