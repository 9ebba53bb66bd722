package session

import (
	"context"
	"fmt"

	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/squareup/ksession/log"
)

// Session is the invocation surface: connection parameters are set first, then messages are produced or consumed,
// and finally the session is shut down. A session holds one producer, connected by the first Produce, and one
// consumer whose every Consume runs with its own connection.
//
// A Session is not safe for concurrent use, except for Interrupt.
type Session struct {
	cfg      *conf.Config
	factory  kafka.ClientFactory
	logger   *log.Logger
	producer *Producer
	consumer *Consumer
	closed   bool
}

// NewSession creates a session which owns a copy of cfg.
func NewSession(cfg *conf.Config) *Session {
	return NewSessionWithFactory(cfg, nil)
}

// NewSessionWithFactory creates a session whose clients come from factory rather than the configured client type.
func NewSessionWithFactory(cfg *conf.Config, factory kafka.ClientFactory) *Session {
	cp := cfg.Copy()
	return &Session{
		cfg:      &cp,
		factory:  factory,
		logger:   log.NewLogger("session"),
		producer: NewProducer(&cp, factory),
		consumer: NewConsumer(&cp, factory),
	}
}

// Config returns the configuration of the session. It must not be modified.
func (s *Session) Config() *conf.Config {
	return s.cfg
}

func (s *Session) checkMutable(what string) error {
	if s.closed {
		return errors.NewSessionClosedError()
	}
	if s.producer.Initialised() {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("%s cannot be changed once the producer is connected", what))
	}
	return nil
}

// Connect sets the comma separated list of brokers. Nothing is contacted until the first produce or consume.
func (s *Session) Connect(brokers string) error {
	if err := s.checkMutable("brokers"); err != nil {
		return err
	}
	parsed := conf.ParseBrokers(brokers)
	if len(parsed) == 0 {
		return errors.NewInvalidConfigurationError("no brokers specified")
	}
	s.cfg.Brokers = parsed
	return nil
}

func (s *Session) SetTopic(name string) error {
	if err := s.checkMutable("topic"); err != nil {
		return err
	}
	if name == "" {
		return errors.NewInvalidConfigurationError("Topic must be specified")
	}
	s.cfg.Topic = name
	return nil
}

// SetPartition sets the partition to produce to and consume from. kafka.PartitionUnassigned lets the client choose
// when producing, and consumes partition 0.
func (s *Session) SetPartition(partition int32) error {
	if err := s.checkMutable("partition"); err != nil {
		return err
	}
	if partition < kafka.PartitionUnassigned {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("Partition must be >= %d", kafka.PartitionUnassigned))
	}
	s.cfg.Partition = partition
	return nil
}

// Produce enqueues payload. See Producer.Produce.
func (s *Session) Produce(payload []byte) error {
	if s.closed {
		return errors.NewSessionClosedError()
	}
	return s.producer.Produce(payload)
}

// Consume reads from the configured topic partition. See Consumer.Consume.
func (s *Session) Consume(ctx context.Context, offsetToken string, itemCount int) (map[int64][]byte, error) {
	if s.closed {
		return nil, errors.NewSessionClosedError()
	}
	return s.consumer.Consume(ctx, offsetToken, itemCount)
}

// Producer returns the producer of the session.
func (s *Session) Producer() *Producer {
	return s.producer
}

// Consumer returns the consumer of the session.
func (s *Session) Consumer() *Consumer {
	return s.consumer
}

// Interrupt stops a running consume and cuts short a drain. It is safe to call from any goroutine, typically a
// signal handler.
func (s *Session) Interrupt() {
	s.producer.Interrupt()
	s.consumer.Interrupt()
}

// Shutdown drains and releases the producer. The session cannot be used afterwards. Calling Shutdown again does
// nothing.
func (s *Session) Shutdown(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.producer.Close(ctx)
	s.logger.Debugf("shut down")
	return nil
}
