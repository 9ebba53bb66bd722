package kafka

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/failinject"
)

// Properties understood by fake clients only
const (
	FakeKafkaIDPropName      = "fakeKafkaID"
	FakeDestroyDelayPropName = "fake.destroy.delay"
)

var fakeKafkaSeq int64 = -1

// We store the fake kafkas in a top level map so the ids can be passed in test config and used to look up the
// broker when the session creates its clients
var fakeKafkas sync.Map

func GetFakeKafka(id int64) (*FakeKafka, bool) {
	f, ok := fakeKafkas.Load(id)
	if !ok {
		return nil, false
	}
	return f.(*FakeKafka), true
}

// NewFakeKafka creates an in-memory broker. Topics are created on first use unless auto creation is turned off.
func NewFakeKafka() *FakeKafka {
	id := atomic.AddInt64(&fakeKafkaSeq, 1)
	injector := failinject.NewInjector()
	if err := injector.Start(); err != nil {
		panic(err)
	}
	fk := &FakeKafka{ID: id, Injector: injector}
	fk.autoCreateTopics.Set(true)
	fakeKafkas.Store(id, fk)
	return fk
}

type FakeKafka struct {
	ID               int64
	Injector         failinject.Injector
	topicLock        sync.Mutex
	topics           sync.Map
	autoCreateTopics common.AtomicBool
	holdDeliveries   common.AtomicBool
	clientsLock      sync.Mutex
	clients          []*FakeClient
}

func (f *FakeKafka) CreateTopic(name string, partitions int) (*FakeTopic, error) {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if _, ok := f.getTopic(name); ok {
		return nil, errors.Errorf("topic with name %s already exists", name)
	}
	return f.createTopic(name, partitions), nil
}

func (f *FakeKafka) createTopic(name string, partitions int) *FakeTopic {
	parts := make([]*FakePartition, partitions)
	for i := 0; i < partitions; i++ {
		parts[i] = &FakePartition{
			id:     int32(i),
			notify: make(chan struct{}),
		}
	}
	topic := &FakeTopic{
		Name:       name,
		partitions: parts,
		committed:  make(map[string]map[int32]int64),
	}
	f.topics.Store(name, topic)
	return topic
}

func (f *FakeKafka) GetTopic(name string) (*FakeTopic, bool) {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	return f.getTopic(name)
}

func (f *FakeKafka) DeleteTopic(name string) error {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if _, ok := f.getTopic(name); !ok {
		return errors.Errorf("no such topic %s", name)
	}
	f.topics.Delete(name)
	return nil
}

// IngestMessage appends message directly to the partition named by its PartInfo, bypassing any client.
func (f *FakeKafka) IngestMessage(topicName string, message *Message) error {
	topic, ok := f.GetTopic(topicName)
	if !ok {
		return errors.Errorf("no such topic %s", topicName)
	}
	part, err := topic.partition(message.PartInfo.PartitionID)
	if err != nil {
		return err
	}
	part.append(message.Key, message.Value)
	return nil
}

func (f *FakeKafka) GetTopicNames() []string {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	var names []string
	f.topics.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// SetAutoCreateTopics controls whether binding an unknown topic creates it with a single partition.
func (f *FakeKafka) SetAutoCreateTopics(autoCreate bool) {
	f.autoCreateTopics.Set(autoCreate)
}

// SetHoldDeliveries controls whether produced messages stay in the client queues instead of being delivered on poll.
func (f *FakeKafka) SetHoldDeliveries(hold bool) {
	f.holdDeliveries.Set(hold)
}

// Clients returns every client created against the broker, in creation order.
func (f *FakeKafka) Clients() []*FakeClient {
	f.clientsLock.Lock()
	defer f.clientsLock.Unlock()
	res := make([]*FakeClient, len(f.clients))
	copy(res, f.clients)
	return res
}

func (f *FakeKafka) getTopic(name string) (*FakeTopic, bool) {
	t, ok := f.topics.Load(name)
	if !ok {
		return nil, false
	}
	return t.(*FakeTopic), true
}

func (f *FakeKafka) getOrCreateTopic(name string) (*FakeTopic, error) {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if topic, ok := f.getTopic(name); ok {
		return topic, nil
	}
	if !f.autoCreateTopics.Get() {
		return nil, errors.Wrapf(ErrUnknownTopic, "topic %s", name)
	}
	return f.createTopic(name, 1), nil
}

func (f *FakeKafka) checkFail(failpoint string) error {
	return f.Injector.GetFailpoint(failpoint).CheckFail()
}

type FakeTopic struct {
	Name          string
	lock          sync.Mutex
	partitions    []*FakePartition
	committed     map[string]map[int32]int64
	nextPartition uint32
}

// CommitOffset stores offset as the committed offset of the consumer group for partition.
func (t *FakeTopic) CommitOffset(groupID string, partition int32, offset int64) error {
	if _, err := t.partition(partition); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	offsets, ok := t.committed[groupID]
	if !ok {
		offsets = make(map[int32]int64)
		t.committed[groupID] = offsets
	}
	offsets[partition] = offset
	return nil
}

func (t *FakeTopic) committedOffset(groupID string, partition int32) (int64, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	offset, ok := t.committed[groupID][partition]
	return offset, ok
}

// Messages returns a snapshot of the records in partition.
func (t *FakeTopic) Messages(partition int32) []*Message {
	part, err := t.partition(partition)
	if err != nil {
		return nil
	}
	part.lock.Lock()
	defer part.lock.Unlock()
	res := make([]*Message, len(part.messages))
	copy(res, part.messages)
	return res
}

func (t *FakeTopic) PartitionCount() int {
	return len(t.partitions)
}

func (t *FakeTopic) partition(id int32) (*FakePartition, error) {
	if id < 0 || int(id) >= len(t.partitions) {
		return nil, errors.Wrapf(ErrUnknownPartition, "topic %s partition %d", t.Name, id)
	}
	return t.partitions[id], nil
}

func (t *FakeTopic) choosePartition() int32 {
	n := atomic.AddUint32(&t.nextPartition, 1) - 1
	return int32(n % uint32(len(t.partitions)))
}

type FakePartition struct {
	id       int32
	lock     sync.Mutex
	messages []*Message
	// closed and replaced every time a record is appended
	notify chan struct{}
}

func (p *FakePartition) append(key []byte, value []byte) int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	offset := int64(len(p.messages))
	p.messages = append(p.messages, &Message{
		PartInfo:  PartInfo{PartitionID: p.id, Offset: offset},
		TimeStamp: time.Now(),
		Key:       key,
		Value:     common.CopyByteSlice(value),
	})
	close(p.notify)
	p.notify = make(chan struct{})
	return offset
}

func (p *FakePartition) highWatermark() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return int64(len(p.messages))
}

// read returns the record at offset, or a channel which is closed when the next record is appended.
func (p *FakePartition) read(offset int64) (*Message, chan struct{}) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if offset < int64(len(p.messages)) {
		return p.messages[offset], nil
	}
	return nil, p.notify
}

func NewFakeClientFactory(props map[string]string) (*FakeClientFactory, error) {
	sFakeKafkaID, ok := props[FakeKafkaIDPropName]
	if !ok {
		return nil, errors.NewInvalidConfigurationError("no fakeKafkaID property in broker configuration")
	}
	fakeKafkaID, err := strconv.ParseInt(sFakeKafkaID, 10, 64)
	if err != nil {
		return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("invalid fakeKafkaID %q", sFakeKafkaID))
	}
	fk, ok := GetFakeKafka(fakeKafkaID)
	if !ok {
		return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("cannot find fake kafka with id %d", fakeKafkaID))
	}
	return &FakeClientFactory{fk: fk}, nil
}

type FakeClientFactory struct {
	fk *FakeKafka
}

func (f *FakeClientFactory) NewClient(mode Mode, props map[string]string, callbacks Callbacks) (Client, error) {
	maxBytes, err := intProp(props, MessageMaxBytesPropName, DefaultMessageMaxBytes)
	if err != nil {
		return nil, err
	}
	queueLimit, err := intProp(props, QueueMaxMessagesPropName, DefaultQueueMaxMessages)
	if err != nil {
		return nil, err
	}
	var destroyDelay time.Duration
	if s, ok := props[FakeDestroyDelayPropName]; ok {
		destroyDelay, err = time.ParseDuration(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", FakeDestroyDelayPropName)
		}
	}
	groupID := props[GroupIDPropName]
	client := &FakeClient{
		fk:              f.fk,
		mode:            mode,
		callbacks:       callbacks,
		maxMessageBytes: maxBytes,
		queueLimit:      queueLimit,
		destroyDelay:    destroyDelay,
		groupID:         groupID,
	}
	f.fk.clientsLock.Lock()
	f.fk.clients = append(f.fk.clients, client)
	f.fk.clientsLock.Unlock()
	return client, nil
}

type fakeDelivery struct {
	topic     *FakeTopic
	partition int32
	value     []byte
	opaque    interface{}
}

// FakeClient is a client of a FakeKafka. Produced messages are appended to the broker when they are polled.
type FakeClient struct {
	fk              *FakeKafka
	mode            Mode
	callbacks       Callbacks
	maxMessageBytes int
	queueLimit      int
	destroyDelay    time.Duration
	groupID         string
	lock            sync.Mutex
	brokers         []string
	pending         []*fakeDelivery
	topics          []*fakeClientTopic
	closed          common.AtomicBool
	closeCalls      int64
	fetchCalls      int64
	consumeStops    int64
}

func (c *FakeClient) Mode() Mode {
	return c.mode
}

func (c *FakeClient) AddBrokers(brokers []string) (int, error) {
	if c.closed.Get() {
		return 0, ErrClientClosed
	}
	valid := ValidBrokers(brokers)
	c.lock.Lock()
	defer c.lock.Unlock()
	c.brokers = append(c.brokers, valid...)
	return len(valid), nil
}

func (c *FakeClient) Brokers() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.brokers...)
}

func (c *FakeClient) NewTopic(name string, props map[string]string) (Topic, error) {
	if c.closed.Get() {
		return nil, ErrClientClosed
	}
	if name == "" {
		return nil, errors.Wrap(ErrUnknownTopic, "topic name is empty")
	}
	if err := c.fk.checkFail(failinject.FakeTopic); err != nil {
		return nil, err
	}
	topic, err := c.fk.getOrCreateTopic(name)
	if err != nil {
		return nil, err
	}
	ct := &fakeClientTopic{
		client:   c,
		topic:    topic,
		sessions: make(map[int32]*fakeFetchSession),
	}
	c.lock.Lock()
	c.topics = append(c.topics, ct)
	c.lock.Unlock()
	return ct, nil
}

func (c *FakeClient) Poll(timeout time.Duration) int {
	if c.fk.holdDeliveries.Get() || c.closed.Get() {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0
	}
	c.lock.Lock()
	pending := c.pending
	c.pending = nil
	c.lock.Unlock()
	if len(pending) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0
	}
	for _, d := range pending {
		report := &DeliveryReport{
			Topic:    d.topic.Name,
			PartInfo: PartInfo{PartitionID: d.partition, Offset: -1},
			Opaque:   d.opaque,
		}
		if err := c.fk.checkFail(failinject.FakeDeliver); err != nil {
			report.Err = err
		} else {
			part, err := d.topic.partition(d.partition)
			if err != nil {
				report.Err = err
			} else {
				report.PartInfo.Offset = part.append(nil, d.value)
			}
		}
		c.callbacks.delivered(report)
	}
	return len(pending)
}

func (c *FakeClient) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

func (c *FakeClient) Close(timeout time.Duration) error {
	atomic.AddInt64(&c.closeCalls, 1)
	if !c.closed.CompareAndSet(false, true) {
		return nil
	}
	c.lock.Lock()
	topics := c.topics
	c.lock.Unlock()
	for _, t := range topics {
		t.stopAll()
	}
	if c.destroyDelay > 0 {
		if c.destroyDelay > timeout {
			time.Sleep(timeout)
			return ErrDestroyTimeout
		}
		time.Sleep(c.destroyDelay)
	}
	return nil
}

// Closed returns true once Close has released the client.
func (c *FakeClient) Closed() bool {
	return c.closed.Get()
}

// CloseCalls returns how many times Close was invoked, including calls on an already closed client.
func (c *FakeClient) CloseCalls() int {
	return int(atomic.LoadInt64(&c.closeCalls))
}

// FetchCalls returns how many times Consume was invoked on any topic of the client.
func (c *FakeClient) FetchCalls() int {
	return int(atomic.LoadInt64(&c.fetchCalls))
}

// ConsumeStops returns how many times a running partition fetch was stopped.
func (c *FakeClient) ConsumeStops() int {
	return int(atomic.LoadInt64(&c.consumeStops))
}

type fakeFetchSession struct {
	position    int64
	eofReported bool
	outOfRange  bool
}

type fakeClientTopic struct {
	client   *FakeClient
	topic    *FakeTopic
	lock     sync.Mutex
	sessions map[int32]*fakeFetchSession
	closed   common.AtomicBool
}

func (t *fakeClientTopic) Name() string {
	return t.topic.Name
}

func (t *fakeClientTopic) checkUsable(mode Mode) error {
	if t.closed.Get() || t.client.closed.Get() {
		return ErrClientClosed
	}
	if t.client.mode != mode {
		return errors.Wrapf(ErrWrongMode, "%s client", t.client.mode)
	}
	return nil
}

func (t *fakeClientTopic) Produce(partition int32, payload []byte, opaque interface{}) error {
	if err := t.checkUsable(ModeProducer); err != nil {
		return err
	}
	if err := t.client.fk.checkFail(failinject.FakeProduce); err != nil {
		return err
	}
	if len(payload) > t.client.maxMessageBytes {
		return errors.Wrapf(ErrMsgSizeTooLarge, "%d bytes exceeds %d", len(payload), t.client.maxMessageBytes)
	}
	if partition == PartitionUnassigned {
		partition = t.topic.choosePartition()
	} else if _, err := t.topic.partition(partition); err != nil {
		return err
	}
	c := t.client
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.pending) >= c.queueLimit {
		return ErrQueueFull
	}
	c.pending = append(c.pending, &fakeDelivery{
		topic:     t.topic,
		partition: partition,
		value:     common.CopyByteSlice(payload),
		opaque:    opaque,
	})
	return nil
}

func (t *fakeClientTopic) ConsumeStart(partition int32, offset int64) error {
	if err := t.checkUsable(ModeConsumer); err != nil {
		return err
	}
	part, err := t.topic.partition(partition)
	if err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.sessions[partition]; ok {
		return errors.Errorf("partition %d of topic %s is already being consumed", partition, t.topic.Name)
	}
	hwm := part.highWatermark()
	session := &fakeFetchSession{}
	switch {
	case offset == OffsetBeginning:
		session.position = 0
	case offset == OffsetEnd:
		session.position = hwm
	case offset == OffsetStored:
		committed, ok := t.topic.committedOffset(t.client.groupID, partition)
		if !ok {
			committed = hwm
		}
		session.position = committed
	case offset < 0:
		return errors.Wrapf(ErrInvalidOffset, "offset %d", offset)
	case offset > hwm:
		session.position = offset
		session.outOfRange = true
	default:
		session.position = offset
	}
	t.sessions[partition] = session
	return nil
}

func (t *fakeClientTopic) Consume(partition int32, timeout time.Duration) (*Message, error) {
	atomic.AddInt64(&t.client.fetchCalls, 1)
	if err := t.checkUsable(ModeConsumer); err != nil {
		return nil, err
	}
	part, err := t.topic.partition(partition)
	if err != nil {
		return nil, err
	}
	t.lock.Lock()
	session, ok := t.sessions[partition]
	t.lock.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotConsuming, "partition %d", partition)
	}
	if err := t.client.fk.checkFail(failinject.FakeFetch); err != nil {
		return t.errorMessage(partition, session.position, err), nil
	}
	if session.outOfRange {
		// report once then reset to the end, as auto.offset.reset=largest does
		msg := t.errorMessage(partition, session.position, ErrOffsetOutOfRange)
		session.outOfRange = false
		session.position = part.highWatermark()
		return msg, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		msg, notify := part.read(session.position)
		if msg != nil {
			session.position++
			session.eofReported = false
			return t.copyMessage(msg), nil
		}
		if !session.eofReported {
			session.eofReported = true
			return t.errorMessage(partition, session.position, ErrPartitionEOF), nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (t *fakeClientTopic) copyMessage(msg *Message) *Message {
	return &Message{
		Topic:     t.topic.Name,
		PartInfo:  msg.PartInfo,
		TimeStamp: msg.TimeStamp,
		Key:       msg.Key,
		Value:     common.CopyByteSlice(msg.Value),
	}
}

func (t *fakeClientTopic) errorMessage(partition int32, offset int64, err error) *Message {
	return &Message{
		Topic:    t.topic.Name,
		PartInfo: PartInfo{PartitionID: partition, Offset: offset},
		Err:      err,
	}
}

func (t *fakeClientTopic) ConsumeStop(partition int32) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.sessions[partition]; ok {
		delete(t.sessions, partition)
		atomic.AddInt64(&t.client.consumeStops, 1)
	}
	return nil
}

func (t *fakeClientTopic) stopAll() {
	t.lock.Lock()
	defer t.lock.Unlock()
	for partition := range t.sessions {
		delete(t.sessions, partition)
		atomic.AddInt64(&t.client.consumeStops, 1)
	}
}

func (t *fakeClientTopic) Close() error {
	if t.closed.CompareAndSet(false, true) {
		t.stopAll()
	}
	return nil
}

func intProp(props map[string]string, name string, def int) (int, error) {
	s, ok := props[name]
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, errors.NewInvalidConfigurationError(fmt.Sprintf("invalid value %q for %s", s, name))
	}
	return v, nil
}
