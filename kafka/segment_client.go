//go:build !confluent
// +build !confluent

package kafka

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"github.com/squareup/ksession/common"
	conftls "github.com/squareup/ksession/conf/tls"
	"github.com/squareup/ksession/errors"
)

// Client implementation that uses the SegmentIO golang client

const (
	segmentDialTimeout = 10 * time.Second
	segmentMaxWait     = 500 * time.Millisecond
)

func newDefaultClientFactory() ClientFactory {
	return &segmentClientFactory{}
}

type segmentClientFactory struct{}

func (f *segmentClientFactory) NewClient(mode Mode, props map[string]string, callbacks Callbacks) (Client, error) {
	maxBytes, err := intProp(props, MessageMaxBytesPropName, DefaultMessageMaxBytes)
	if err != nil {
		return nil, err
	}
	queueLimit, err := intProp(props, QueueMaxMessagesPropName, DefaultQueueMaxMessages)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := conftls.BuildClientTLSConfig(conftls.CertsConfig{
		CACert: props["ssl.ca.location"],
		Cert:   props["ssl.certificate.location"],
		Key:    props["ssl.key.location"],
	})
	if err != nil {
		return nil, errors.NewInvalidConfigurationError(err.Error())
	}
	groupID := props[GroupIDPropName]
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return &segmentClient{
		mode:            mode,
		callbacks:       callbacks,
		maxMessageBytes: maxBytes,
		queueLimit:      queueLimit,
		groupID:         groupID,
		tlsConfig:       tlsConfig,
		reports:         make(chan *DeliveryReport, queueLimit),
	}, nil
}

type segmentClient struct {
	mode            Mode
	callbacks       Callbacks
	maxMessageBytes int
	queueLimit      int
	groupID         string
	tlsConfig       *tls.Config
	brokers         []string
	lock            sync.Mutex
	topics          []*segmentTopic
	reports         chan *DeliveryReport
	inFlight        int64
	closed          common.AtomicBool
}

func (c *segmentClient) Mode() Mode {
	return c.mode
}

func (c *segmentClient) AddBrokers(brokers []string) (int, error) {
	if c.closed.Get() {
		return 0, ErrClientClosed
	}
	valid := ValidBrokers(brokers)
	c.brokers = append(c.brokers, valid...)
	return len(valid), nil
}

func (c *segmentClient) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:   segmentDialTimeout,
		DualStack: true,
		TLS:       c.tlsConfig,
	}
}

// lookupPartitions asks each broker in turn for the partitions of topic.
func (c *segmentClient) lookupPartitions(topic string) (int, error) {
	if len(c.brokers) == 0 {
		return 0, errors.New("no brokers have been added")
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultMetadataTimeout)
	defer cancel()
	var lastErr error
	for _, broker := range c.brokers {
		partitions, err := c.dialer().LookupPartitions(ctx, "tcp", broker, topic)
		if err != nil {
			lastErr = err
			continue
		}
		if len(partitions) == 0 {
			return 0, errors.Wrapf(ErrUnknownTopic, "topic %s", topic)
		}
		return len(partitions), nil
	}
	return 0, errors.WithStack(lastErr)
}

func (c *segmentClient) NewTopic(name string, props map[string]string) (Topic, error) {
	if c.closed.Get() {
		return nil, ErrClientClosed
	}
	if name == "" {
		return nil, errors.Wrap(ErrUnknownTopic, "topic name is empty")
	}
	partitions, err := c.lookupPartitions(name)
	if err != nil {
		return nil, err
	}
	t := &segmentTopic{
		client:     c,
		name:       name,
		partitions: partitions,
		fetches:    make(map[int32]*segmentFetch),
	}
	if c.mode == ModeProducer {
		t.writer = &kafka.Writer{
			Addr:         kafka.TCP(c.brokers...),
			Topic:        name,
			Balancer:     &partitionBalancer{},
			Async:        true,
			BatchBytes:   int64(c.maxMessageBytes),
			RequiredAcks: kafka.RequireAll,
			Completion:   t.completed,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Debugf("kafka writer: "+msg, args...)
			}),
		}
		if c.tlsConfig != nil {
			t.writer.Transport = &kafka.Transport{TLS: c.tlsConfig}
		}
	}
	c.lock.Lock()
	c.topics = append(c.topics, t)
	c.lock.Unlock()
	return t, nil
}

func (c *segmentClient) Poll(timeout time.Duration) int {
	served := c.drainReports()
	if served > 0 || timeout <= 0 {
		return served
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case report := <-c.reports:
		c.serve(report)
		return 1 + c.drainReports()
	case <-timer.C:
		return 0
	}
}

func (c *segmentClient) drainReports() int {
	served := 0
	for {
		select {
		case report := <-c.reports:
			c.serve(report)
			served++
		default:
			return served
		}
	}
}

func (c *segmentClient) serve(report *DeliveryReport) {
	atomic.AddInt64(&c.inFlight, -1)
	c.callbacks.delivered(report)
}

func (c *segmentClient) Len() int {
	return int(atomic.LoadInt64(&c.inFlight))
}

func (c *segmentClient) Close(timeout time.Duration) error {
	if !c.closed.CompareAndSet(false, true) {
		return nil
	}
	c.lock.Lock()
	topics := c.topics
	c.lock.Unlock()
	done := make(chan error, 1)
	go func() {
		var firstErr error
		for _, t := range topics {
			if err := t.release(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrDestroyTimeout
	}
}

// partitionBalancer sends each message to the partition it was produced with, or spreads messages which have no
// partition across all of them.
type partitionBalancer struct {
	fallback kafka.RoundRobin
}

func (b *partitionBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if msg.Partition >= 0 {
		for _, p := range partitions {
			if p == msg.Partition {
				return p
			}
		}
	}
	return b.fallback.Balance(msg, partitions...)
}

type segmentFetch struct {
	reader      *kafka.Reader
	conn        *kafka.Conn
	next        int64
	hwm         int64
	eofReported bool
	outOfRange  bool
}

type segmentTopic struct {
	client     *segmentClient
	name       string
	partitions int
	writer     *kafka.Writer
	lock       sync.Mutex
	fetches    map[int32]*segmentFetch
	closed     common.AtomicBool
}

func (t *segmentTopic) Name() string {
	return t.name
}

func (t *segmentTopic) checkUsable(mode Mode) error {
	if t.closed.Get() || t.client.closed.Get() {
		return ErrClientClosed
	}
	if t.client.mode != mode {
		return errors.Wrapf(ErrWrongMode, "%s client", t.client.mode)
	}
	return nil
}

func (t *segmentTopic) checkPartition(partition int32) error {
	if partition < 0 || int(partition) >= t.partitions {
		return errors.Wrapf(ErrUnknownPartition, "topic %s partition %d", t.name, partition)
	}
	return nil
}

func (t *segmentTopic) Produce(partition int32, payload []byte, opaque interface{}) error {
	if err := t.checkUsable(ModeProducer); err != nil {
		return err
	}
	if len(payload) > t.client.maxMessageBytes {
		return errors.Wrapf(ErrMsgSizeTooLarge, "%d bytes exceeds %d", len(payload), t.client.maxMessageBytes)
	}
	if partition != PartitionUnassigned {
		if err := t.checkPartition(partition); err != nil {
			return err
		}
	}
	if atomic.AddInt64(&t.client.inFlight, 1) > int64(t.client.queueLimit) {
		atomic.AddInt64(&t.client.inFlight, -1)
		return ErrQueueFull
	}
	err := t.writer.WriteMessages(context.Background(), kafka.Message{
		Partition:  int(partition),
		Value:      common.CopyByteSlice(payload),
		WriterData: opaque,
	})
	if err != nil {
		atomic.AddInt64(&t.client.inFlight, -1)
		return errors.WithStack(err)
	}
	return nil
}

// completed is called by the writer once a batch has been acknowledged or has failed.
func (t *segmentTopic) completed(messages []kafka.Message, err error) {
	for _, m := range messages {
		t.client.reports <- &DeliveryReport{
			Topic:    t.name,
			PartInfo: PartInfo{PartitionID: int32(m.Partition), Offset: m.Offset},
			Err:      err,
			Opaque:   m.WriterData,
		}
	}
}

func (t *segmentTopic) dialLeader(ctx context.Context, partition int32) (*kafka.Conn, error) {
	var lastErr error
	for _, broker := range t.client.brokers {
		conn, err := t.client.dialer().DialLeader(ctx, "tcp", broker, t.name, int(partition))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.WithStack(lastErr)
}

func (t *segmentTopic) committedOffset(ctx context.Context, partition int32) (int64, bool, error) {
	client := &kafka.Client{
		Addr:    kafka.TCP(t.client.brokers...),
		Timeout: segmentDialTimeout,
	}
	if t.client.tlsConfig != nil {
		client.Transport = &kafka.Transport{TLS: t.client.tlsConfig}
	}
	resp, err := client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: t.client.groupID,
		Topics:  map[string][]int{t.name: {int(partition)}},
	})
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	if resp.Error != nil {
		return 0, false, errors.WithStack(resp.Error)
	}
	for _, p := range resp.Topics[t.name] {
		if p.Partition != int(partition) {
			continue
		}
		if p.Error != nil {
			return 0, false, errors.WithStack(p.Error)
		}
		if p.CommittedOffset < 0 {
			return 0, false, nil
		}
		return p.CommittedOffset, true, nil
	}
	return 0, false, nil
}

func (t *segmentTopic) ConsumeStart(partition int32, offset int64) error {
	if err := t.checkUsable(ModeConsumer); err != nil {
		return err
	}
	if err := t.checkPartition(partition); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.fetches[partition]; ok {
		return errors.Errorf("partition %d of topic %s is already being consumed", partition, t.name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultMetadataTimeout)
	defer cancel()
	conn, err := t.dialLeader(ctx, partition)
	if err != nil {
		return err
	}
	first, last, err := conn.ReadOffsets()
	if err != nil {
		common.InvokeCloser(conn)
		return errors.WithStack(err)
	}
	fetch := &segmentFetch{conn: conn, hwm: last}
	switch {
	case offset == OffsetBeginning:
		fetch.next = first
	case offset == OffsetEnd:
		fetch.next = last
	case offset == OffsetStored:
		committed, ok, err := t.committedOffset(ctx, partition)
		if err != nil {
			common.InvokeCloser(conn)
			return err
		}
		if !ok {
			committed = last
		}
		fetch.next = committed
	case offset < 0:
		common.InvokeCloser(conn)
		return errors.Wrapf(ErrInvalidOffset, "offset %d", offset)
	case offset < first || offset > last:
		fetch.outOfRange = true
		fetch.next = last
	default:
		fetch.next = offset
	}
	fetch.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:   t.client.brokers,
		Topic:     t.name,
		Partition: int(partition),
		MinBytes:  1,
		MaxBytes:  t.client.maxMessageBytes,
		MaxWait:   segmentMaxWait,
		Dialer:    t.client.dialer(),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debugf("kafka reader: "+msg, args...)
		}),
	})
	if err := fetch.reader.SetOffset(fetch.next); err != nil {
		common.InvokeCloser(fetch.reader)
		common.InvokeCloser(conn)
		return errors.WithStack(err)
	}
	if fetch.outOfRange {
		fetch.next = offset
	}
	t.fetches[partition] = fetch
	return nil
}

func (t *segmentTopic) Consume(partition int32, timeout time.Duration) (*Message, error) {
	if err := t.checkUsable(ModeConsumer); err != nil {
		return nil, err
	}
	t.lock.Lock()
	fetch, ok := t.fetches[partition]
	t.lock.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotConsuming, "partition %d", partition)
	}
	if fetch.outOfRange {
		msg := t.errorMessage(partition, fetch.next, ErrOffsetOutOfRange)
		fetch.outOfRange = false
		fetch.next = fetch.hwm
		return msg, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var leaderErr error
	if fetch.next >= fetch.hwm {
		last, err := t.readLastOffset(ctx, fetch, partition)
		if err != nil {
			// the reader reconnects by itself, so it still gets the rest of the wait
			leaderErr = err
		} else {
			fetch.hwm = last
			if fetch.next >= fetch.hwm && !fetch.eofReported {
				fetch.eofReported = true
				return t.errorMessage(partition, fetch.next, ErrPartitionEOF), nil
			}
		}
	}
	km, err := fetch.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if leaderErr != nil {
				return t.errorMessage(partition, fetch.next, leaderErr), nil
			}
			return nil, nil
		}
		return t.errorMessage(partition, fetch.next, err), nil
	}
	fetch.next = km.Offset + 1
	if km.HighWaterMark > fetch.hwm {
		fetch.hwm = km.HighWaterMark
	}
	fetch.eofReported = false
	headers := make([]MessageHeader, len(km.Headers))
	for i, hdr := range km.Headers {
		headers[i] = MessageHeader{
			Key:   hdr.Key,
			Value: hdr.Value,
		}
	}
	return &Message{
		Topic: t.name,
		PartInfo: PartInfo{
			PartitionID: int32(km.Partition),
			Offset:      km.Offset,
		},
		TimeStamp: km.Time,
		Key:       km.Key,
		Value:     km.Value,
		Headers:   headers,
	}, nil
}

// readLastOffset reads the high watermark from the partition leader. A connection which fails is dropped and the
// leader is dialled again on the next call.
func (t *segmentTopic) readLastOffset(ctx context.Context, fetch *segmentFetch, partition int32) (int64, error) {
	if fetch.conn == nil {
		conn, err := t.dialLeader(ctx, partition)
		if err != nil {
			return 0, err
		}
		fetch.conn = conn
	}
	last, err := fetch.conn.ReadLastOffset()
	if err != nil {
		common.InvokeCloser(fetch.conn)
		fetch.conn = nil
		return 0, errors.WithStack(err)
	}
	return last, nil
}

func (t *segmentTopic) errorMessage(partition int32, offset int64, err error) *Message {
	return &Message{
		Topic:    t.name,
		PartInfo: PartInfo{PartitionID: partition, Offset: offset},
		Err:      err,
	}
}

func (t *segmentTopic) ConsumeStop(partition int32) error {
	t.lock.Lock()
	fetch, ok := t.fetches[partition]
	delete(t.fetches, partition)
	t.lock.Unlock()
	if !ok {
		return nil
	}
	return stopFetch(fetch)
}

func stopFetch(fetch *segmentFetch) error {
	err := fetch.reader.Close()
	if fetch.conn != nil {
		if cerr := fetch.conn.Close(); err == nil {
			err = cerr
		}
	}
	return errors.WithStack(err)
}

func (t *segmentTopic) stopFetches() error {
	t.lock.Lock()
	fetches := t.fetches
	t.fetches = make(map[int32]*segmentFetch)
	t.lock.Unlock()
	var firstErr error
	for _, fetch := range fetches {
		if err := stopFetch(fetch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// release stops every fetch and flushes the writer.
func (t *segmentTopic) release() error {
	err := t.stopFetches()
	if t.writer != nil {
		if werr := t.writer.Close(); werr != nil && err == nil {
			err = errors.WithStack(werr)
		}
	}
	return err
}

func (t *segmentTopic) Close() error {
	if !t.closed.CompareAndSet(false, true) {
		return nil
	}
	return t.stopFetches()
}
