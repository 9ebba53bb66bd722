package kafka

import (
	"time"

	"github.com/squareup/ksession/errors"
)

// Mode is the role a client is created for. A client keeps its mode for its whole lifetime.
type Mode int

const (
	ModeProducer Mode = iota + 1
	ModeConsumer
)

func (m Mode) String() string {
	switch m {
	case ModeProducer:
		return "producer"
	case ModeConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// PartitionUnassigned lets the client choose the partition when producing.
const PartitionUnassigned int32 = -1

// Logical offsets. The values match librdkafka and confluent-kafka-go.
const (
	OffsetBeginning int64 = -2
	OffsetEnd       int64 = -1
	OffsetStored    int64 = -1000
)

// Property names understood by every client
const (
	BootstrapServersPropName = "bootstrap.servers"
	GroupIDPropName          = "group.id"
	MessageMaxBytesPropName  = "message.max.bytes"
	QueueMaxMessagesPropName = "queue.buffering.max.messages"
	DefaultQueueMaxMessages  = 100000
	DefaultGroupID           = "ksession"
	DefaultMessageMaxBytes   = 1024 * 1024
	DefaultMetadataTimeout   = 5 * time.Second
	DefaultBrokerPort        = "9092"
)

var (
	// ErrPartitionEOF is the classification of a Message which marks the end of the data currently in a partition. It
	// is not a failure.
	ErrPartitionEOF     = errors.New("partition EOF")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrQueueFull        = errors.New("local queue full")
	ErrMsgSizeTooLarge  = errors.New("message size too large")
	ErrUnknownPartition = errors.New("unknown partition")
	ErrUnknownTopic     = errors.New("unknown topic")
	ErrInvalidOffset    = errors.New("invalid offset")
	ErrClientClosed     = errors.New("client has been closed")
	ErrWrongMode        = errors.New("operation not supported in this client mode")
	ErrNotConsuming     = errors.New("partition is not being consumed")
	ErrDestroyTimeout   = errors.New("timed out waiting for client resources to be released")
)

// ClientFactory creates clients. It stands in for the underlying client library.
type ClientFactory interface {
	NewClient(mode Mode, props map[string]string, callbacks Callbacks) (Client, error)
}

// Client is a handle on a set of brokers, used either to produce or to consume.
//
// A Client is not safe for concurrent use, with the exception of Len.
type Client interface {
	Mode() Mode

	// AddBrokers registers the brokers and returns how many of them were accepted. An error means the client could
	// not be brought up at all.
	AddBrokers(brokers []string) (int, error)

	// NewTopic binds a topic to the client. Topics become unusable when the client is closed.
	NewTopic(name string, props map[string]string) (Topic, error)

	// Poll serves queued delivery reports and client errors, waiting up to timeout for the first one. A zero timeout
	// never blocks. It returns the number of events served.
	Poll(timeout time.Duration) int

	// Len is the number of produced messages which have not had a delivery report served yet.
	Len() int

	// Close releases the client. It waits up to timeout for the release to complete and returns ErrDestroyTimeout
	// if it did not. Closing an already closed client does nothing.
	Close(timeout time.Duration) error
}

// Topic is a topic bound to a client.
type Topic interface {
	Name() string

	// Produce enqueues a copy of payload for asynchronous delivery. It never blocks. opaque is handed back in the
	// delivery report.
	Produce(partition int32, payload []byte, opaque interface{}) error

	// ConsumeStart starts fetching partition at offset, which is either an absolute offset or one of the logical
	// offsets.
	ConsumeStart(partition int32, offset int64) error

	// Consume waits up to timeout for the next record of partition. It returns nil, nil on timeout. A returned
	// Message with Err set is either the end of partition marker or a per-record error.
	Consume(partition int32, timeout time.Duration) (*Message, error)

	// ConsumeStop stops fetching partition. Stopping a partition which is not being fetched does nothing.
	ConsumeStop(partition int32) error

	Close() error
}

type Callbacks struct {
	// OnDelivery is invoked from Poll for every completed or failed delivery.
	OnDelivery func(report *DeliveryReport)
	// OnError is invoked for client level errors which are not tied to one message.
	OnError func(err error)
}

func (c *Callbacks) delivered(report *DeliveryReport) {
	if c.OnDelivery != nil {
		c.OnDelivery(report)
	}
}

func (c *Callbacks) failed(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

type Message struct {
	Topic     string
	PartInfo  PartInfo
	TimeStamp time.Time
	Key       []byte
	Value     []byte
	Headers   []MessageHeader
	Err       error
}

// IsEOF returns true if the message is the end of partition marker.
func (m *Message) IsEOF() bool {
	return errors.Is(m.Err, ErrPartitionEOF)
}

type MessageHeader struct {
	Key   string
	Value []byte
}

type PartInfo struct {
	PartitionID int32
	Offset      int64
}

type DeliveryReport struct {
	Topic    string
	PartInfo PartInfo
	Err      error
	Opaque   interface{}
}
