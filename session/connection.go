package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
)

// Connection is a client bound to one mode for its whole lifetime, together with the topics bound through it.
type Connection struct {
	cfg    *conf.Config
	mode   kafka.Mode
	client kafka.Client
	topics []kafka.Topic
	logger *log.Logger
	closed common.AtomicBool
}

// Open creates a client for mode and registers the configured brokers with it. If factory is nil the factory is
// chosen from the configured client type. onDelivery may be nil.
func Open(cfg *conf.Config, mode kafka.Mode, factory kafka.ClientFactory, onDelivery func(*kafka.DeliveryReport)) (*Connection, error) {
	logger := log.NewLogger("connection")
	if len(cfg.Brokers) == 0 {
		return nil, errors.NewInvalidConfigurationError("no brokers specified")
	}
	for _, b := range cfg.Brokers {
		if strings.TrimSpace(b) == "" {
			return nil, errors.NewInvalidConfigurationError("broker list contains a blank entry")
		}
	}
	props := clientProperties(cfg, mode)
	if factory == nil {
		var err error
		factory, err = kafka.NewClientFactory(cfg.ClientType, props)
		if err != nil {
			return nil, err
		}
	}
	client, err := factory.NewClient(mode, props, kafka.Callbacks{
		OnDelivery: onDelivery,
		OnError: func(err error) {
			logger.Errorf(err, "client error")
		},
	})
	if err != nil {
		if errors.IsConfigError(err) {
			return nil, err
		}
		rerr := errors.NewResourceUnavailableError(mode.String(), err)
		logger.Errorf(nil, "%s", rerr.Error())
		return nil, rerr
	}
	conn := &Connection{
		cfg:    cfg,
		mode:   mode,
		client: client,
		logger: logger,
	}
	if err := conn.AddBrokers(cfg.Brokers); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func clientProperties(cfg *conf.Config, mode kafka.Mode) map[string]string {
	props := make(map[string]string, len(cfg.Properties)+4)
	for k, v := range cfg.Properties {
		props[k] = v
	}
	props[kafka.MessageMaxBytesPropName] = strconv.Itoa(cfg.MessageMaxBytes)
	if mode == kafka.ModeConsumer {
		props[kafka.GroupIDPropName] = cfg.GroupID()
	}
	for k, v := range cfg.TLS.Properties() {
		props[k] = v
	}
	return props
}

// AddBrokers registers brokers with the client and returns a NoBrokersAvailable error if none of them was accepted.
func (c *Connection) AddBrokers(brokers []string) error {
	n, err := c.client.AddBrokers(brokers)
	if err != nil {
		rerr := errors.NewResourceUnavailableError(c.mode.String(), err)
		c.logger.Errorf(nil, "%s", rerr.Error())
		return rerr
	}
	if n == 0 {
		cerr := errors.NewNoBrokersAvailableError(brokers)
		c.logger.Errorf(nil, "%s", cerr.Error())
		return cerr
	}
	c.logger.Debugf("%d of %d brokers added for %s", n, len(brokers), c.mode)
	return nil
}

// BindTopic binds the named topic to the connection. The topic is closed with the connection.
func (c *Connection) BindTopic(name string) (kafka.Topic, error) {
	if c.closed.Get() {
		return nil, errors.NewSessionClosedError()
	}
	topic, err := c.client.NewTopic(name, nil)
	if err != nil {
		terr := errors.NewTopicUnavailableError(name, err)
		c.logger.Errorf(nil, "%s", terr.Error())
		return nil, terr
	}
	c.topics = append(c.topics, topic)
	return topic, nil
}

func (c *Connection) Mode() kafka.Mode {
	return c.mode
}

// Poll serves delivery reports, waiting up to timeout for the first one.
func (c *Connection) Poll(timeout time.Duration) int {
	if c.closed.Get() {
		return 0
	}
	return c.client.Poll(timeout)
}

// OutQueueLen is the number of produced messages still waiting for a delivery report.
func (c *Connection) OutQueueLen() int {
	if c.closed.Get() {
		return 0
	}
	return c.client.Len()
}

func (c *Connection) Closed() bool {
	return c.closed.Get()
}

// Close releases the topics and the client. Only the first call does anything. Waiting longer than the destroy
// timeout for the client to be released is logged and otherwise ignored.
func (c *Connection) Close() {
	if !c.closed.CompareAndSet(false, true) {
		return
	}
	for _, topic := range c.topics {
		if err := topic.Close(); err != nil {
			c.logger.Warnf(err, "failed to release topic %s", topic.Name())
		}
	}
	if err := c.client.Close(c.cfg.DestroyTimeout); err != nil {
		if errors.Is(err, kafka.ErrDestroyTimeout) {
			c.logger.Warnf(nil, "%s was not released within %s", c.mode, c.cfg.DestroyTimeout)
		} else {
			c.logger.Warnf(err, "failed to release %s", c.mode)
		}
		return
	}
	c.logger.Debugf("%s released", c.mode)
}
