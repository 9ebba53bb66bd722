//go:build confluent
// +build confluent

package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
)

// Client implementation that uses the standard Confluent golang client, which wraps librdkafka

func newDefaultClientFactory() ClientFactory {
	return &confluentClientFactory{}
}

type confluentClientFactory struct{}

func (f *confluentClientFactory) NewClient(mode Mode, props map[string]string, callbacks Callbacks) (Client, error) {
	cm := &kafka.ConfigMap{}
	if mode == ModeConsumer {
		// offsets are managed by the session, and the end of a partition must be visible to it
		cm = &kafka.ConfigMap{
			GroupIDPropName:        DefaultGroupID,
			"enable.auto.commit":   false,
			"enable.partition.eof": true,
		}
	}
	for k, v := range props {
		if err := cm.SetKey(k, v); err != nil {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("unsupported property %s: %v", k, err))
		}
	}
	return &confluentClient{
		mode:      mode,
		cm:        cm,
		callbacks: callbacks,
	}, nil
}

type confluentClient struct {
	mode      Mode
	cm        *kafka.ConfigMap
	callbacks Callbacks
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	closed    common.AtomicBool
}

func (c *confluentClient) Mode() Mode {
	return c.mode
}

// AddBrokers creates the underlying handle. The Go binding has no way to add brokers to a live handle, so this can
// only be called once.
func (c *confluentClient) AddBrokers(brokers []string) (int, error) {
	if c.closed.Get() {
		return 0, ErrClientClosed
	}
	if c.producer != nil || c.consumer != nil {
		return 0, errors.New("brokers have already been added")
	}
	valid := ValidBrokers(brokers)
	if len(valid) == 0 {
		return 0, nil
	}
	if err := c.cm.SetKey(BootstrapServersPropName, strings.Join(valid, ",")); err != nil {
		return 0, errors.WithStack(err)
	}
	var err error
	if c.mode == ModeProducer {
		c.producer, err = kafka.NewProducer(c.cm)
	} else {
		c.consumer, err = kafka.NewConsumer(c.cm)
	}
	if err != nil {
		return len(valid), errors.WithStack(err)
	}
	return len(valid), nil
}

func (c *confluentClient) NewTopic(name string, props map[string]string) (Topic, error) {
	if c.closed.Get() {
		return nil, ErrClientClosed
	}
	if c.producer == nil && c.consumer == nil {
		return nil, errors.New("no brokers have been added")
	}
	if name == "" {
		return nil, errors.Wrap(ErrUnknownTopic, "topic name is empty")
	}
	timeout := DefaultMetadataTimeout
	if s, ok := props["topic.metadata.timeout"]; ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, errors.Wrap(err, "invalid topic.metadata.timeout")
		}
		timeout = d
	}
	var md *kafka.Metadata
	var err error
	if c.producer != nil {
		md, err = c.producer.GetMetadata(&name, false, int(timeout.Milliseconds()))
	} else {
		md, err = c.consumer.GetMetadata(&name, false, int(timeout.Milliseconds()))
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tm, ok := md.Topics[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTopic, "topic %s", name)
	}
	if tm.Error.Code() != kafka.ErrNoError {
		return nil, errors.Wrapf(tm.Error, "topic %s", name)
	}
	return &confluentTopic{client: c, name: name, partitions: len(tm.Partitions)}, nil
}

func (c *confluentClient) Poll(timeout time.Duration) int {
	if c.producer == nil || c.closed.Get() {
		return 0
	}
	served := c.drainEvents()
	if served > 0 || timeout <= 0 {
		return served
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-c.producer.Events():
		c.handleEvent(ev)
		return 1 + c.drainEvents()
	case <-timer.C:
		return 0
	}
}

func (c *confluentClient) drainEvents() int {
	served := 0
	for {
		select {
		case ev := <-c.producer.Events():
			c.handleEvent(ev)
			served++
		default:
			return served
		}
	}
}

func (c *confluentClient) handleEvent(ev kafka.Event) {
	switch e := ev.(type) {
	case *kafka.Message:
		topic := ""
		if e.TopicPartition.Topic != nil {
			topic = *e.TopicPartition.Topic
		}
		c.callbacks.delivered(&DeliveryReport{
			Topic: topic,
			PartInfo: PartInfo{
				PartitionID: e.TopicPartition.Partition,
				Offset:      int64(e.TopicPartition.Offset),
			},
			Err:    e.TopicPartition.Error,
			Opaque: e.Opaque,
		})
	case kafka.Error:
		c.callbacks.failed(e)
	}
}

func (c *confluentClient) Len() int {
	if c.producer == nil {
		return 0
	}
	return c.producer.Len()
}

func (c *confluentClient) Close(timeout time.Duration) error {
	if !c.closed.CompareAndSet(false, true) {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		switch {
		case c.producer != nil:
			c.producer.Close()
			done <- nil
		case c.consumer != nil:
			done <- c.consumer.Close()
		default:
			done <- nil
		}
	}()
	select {
	case err := <-done:
		return errors.WithStack(err)
	case <-time.After(timeout):
		return ErrDestroyTimeout
	}
}

type confluentTopic struct {
	client     *confluentClient
	name       string
	partitions int
	assigned   bool
	closed     common.AtomicBool
}

func (t *confluentTopic) Name() string {
	return t.name
}

func (t *confluentTopic) checkUsable(mode Mode) error {
	if t.closed.Get() || t.client.closed.Get() {
		return ErrClientClosed
	}
	if t.client.mode != mode {
		return errors.Wrapf(ErrWrongMode, "%s client", t.client.mode)
	}
	return nil
}

func (t *confluentTopic) Produce(partition int32, payload []byte, opaque interface{}) error {
	if err := t.checkUsable(ModeProducer); err != nil {
		return err
	}
	if partition == PartitionUnassigned {
		partition = kafka.PartitionAny
	}
	// the binding copies the value into librdkafka before returning
	return t.client.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t.name, Partition: partition},
		Value:          payload,
		Opaque:         opaque,
	}, nil)
}

func (t *confluentTopic) ConsumeStart(partition int32, offset int64) error {
	if err := t.checkUsable(ModeConsumer); err != nil {
		return err
	}
	if partition < 0 || int(partition) >= t.partitions {
		return errors.Wrapf(ErrUnknownPartition, "topic %s partition %d", t.name, partition)
	}
	if offset < 0 && offset != OffsetBeginning && offset != OffsetEnd && offset != OffsetStored {
		return errors.Wrapf(ErrInvalidOffset, "offset %d", offset)
	}
	err := t.client.consumer.Assign([]kafka.TopicPartition{{
		Topic:     &t.name,
		Partition: partition,
		Offset:    kafka.Offset(offset),
	}})
	if err != nil {
		return errors.WithStack(err)
	}
	t.assigned = true
	return nil
}

func (t *confluentTopic) Consume(partition int32, timeout time.Duration) (*Message, error) {
	if err := t.checkUsable(ModeConsumer); err != nil {
		return nil, err
	}
	if !t.assigned {
		return nil, errors.Wrapf(ErrNotConsuming, "partition %d", partition)
	}
	return consumeEvent(t.name, partition, t.client.consumer.Poll(int(timeout.Milliseconds()))), nil
}

// consumeEvent turns a polled event into a message. A nil message means nothing arrived for the partition. A client
// error is only returned as the error of a message, the consume loop logs it.
func consumeEvent(topic string, partition int32, ev kafka.Event) *Message {
	if ev == nil {
		return nil
	}
	switch e := ev.(type) {
	case *kafka.Message:
		m := &Message{
			Topic: topic,
			PartInfo: PartInfo{
				PartitionID: e.TopicPartition.Partition,
				Offset:      int64(e.TopicPartition.Offset),
			},
			Err: e.TopicPartition.Error,
		}
		if m.Err != nil {
			if kerr, ok := m.Err.(kafka.Error); ok && kerr.Code() == kafka.ErrOffsetOutOfRange {
				m.Err = errors.Wrap(ErrOffsetOutOfRange, kerr.Error())
			}
			return m
		}
		headers := make([]MessageHeader, len(e.Headers))
		for i, hdr := range e.Headers {
			headers[i] = MessageHeader{
				Key:   hdr.Key,
				Value: hdr.Value,
			}
		}
		m.TimeStamp = e.Timestamp
		m.Key = e.Key
		m.Value = e.Value
		m.Headers = headers
		return m
	case kafka.PartitionEOF:
		return &Message{
			Topic:    topic,
			PartInfo: PartInfo{PartitionID: e.Partition, Offset: int64(e.Offset)},
			Err:      ErrPartitionEOF,
		}
	case kafka.Error:
		return &Message{
			Topic:    topic,
			PartInfo: PartInfo{PartitionID: partition, Offset: -1},
			Err:      e,
		}
	default:
		// rebalance, stats and commit events carry nothing for a partition reader
		return nil
	}
}

func (t *confluentTopic) ConsumeStop(partition int32) error {
	if !t.assigned || t.client.closed.Get() {
		return nil
	}
	t.assigned = false
	return errors.WithStack(t.client.consumer.Unassign())
}

func (t *confluentTopic) Close() error {
	if !t.closed.CompareAndSet(false, true) {
		return nil
	}
	if t.client.mode == ModeConsumer {
		return t.ConsumeStop(0)
	}
	return nil
}
