//go:build !confluent
// +build !confluent

package kafka

import (
	"net"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestPartitionBalancerHonoursPartition(t *testing.T) {
	b := &partitionBalancer{}
	partitions := []int{0, 1, 2, 3}
	for i := 0; i < 10; i++ {
		require.Equal(t, 2, b.Balance(kafka.Message{Partition: 2}, partitions...))
	}
}

func TestPartitionBalancerSpreadsUnassigned(t *testing.T) {
	b := &partitionBalancer{}
	partitions := []int{0, 1, 2}
	seen := map[int]int{}
	for i := 0; i < 9; i++ {
		seen[b.Balance(kafka.Message{Partition: int(PartitionUnassigned)}, partitions...)]++
	}
	require.Equal(t, map[int]int{0: 3, 1: 3, 2: 3}, seen)
}

func TestSegmentProduceRejectsBeforeEnqueue(t *testing.T) {
	client, err := newDefaultClientFactory().NewClient(ModeProducer, map[string]string{MessageMaxBytesPropName: "4"}, Callbacks{})
	require.NoError(t, err)
	n, err := client.AddBrokers([]string{"localhost:1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	topic := &segmentTopic{client: client.(*segmentClient), name: "events", partitions: 2}
	err = topic.Produce(0, []byte("12345"), nil)
	require.ErrorIs(t, err, ErrMsgSizeTooLarge)
	err = topic.Produce(5, []byte("1"), nil)
	require.ErrorIs(t, err, ErrUnknownPartition)
	require.Equal(t, 0, client.Len())
}

func TestSegmentCompletionFeedsPoll(t *testing.T) {
	var reports []*DeliveryReport
	client, err := newDefaultClientFactory().NewClient(ModeProducer, nil, Callbacks{OnDelivery: func(r *DeliveryReport) {
		reports = append(reports, r)
	}})
	require.NoError(t, err)
	sc := client.(*segmentClient)
	topic := &segmentTopic{client: sc, name: "events", partitions: 1}
	sc.inFlight = 2
	topic.completed([]kafka.Message{{Partition: 0, Offset: 7, WriterData: "a"}, {Partition: 0, Offset: 8}}, nil)
	require.Equal(t, 2, client.Len())
	require.Equal(t, 2, client.Poll(0))
	require.Equal(t, 0, client.Len())
	require.Equal(t, int64(7), reports[0].PartInfo.Offset)
	require.Equal(t, "a", reports[0].Opaque)
}

func newBrokenLeaderTopic(t *testing.T) (*segmentTopic, *segmentFetch) {
	t.Helper()
	client, err := newDefaultClientFactory().NewClient(ModeConsumer, nil, Callbacks{})
	require.NoError(t, err)
	_, err = client.AddBrokers([]string{"127.0.0.1:1"})
	require.NoError(t, err)
	sc := client.(*segmentClient)
	local, remote := net.Pipe()
	require.NoError(t, local.Close())
	require.NoError(t, remote.Close())
	fetch := &segmentFetch{
		conn: kafka.NewConn(local, "events", 0),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:   sc.brokers,
			Topic:     "events",
			Partition: 0,
			MaxWait:   segmentMaxWait,
		}),
		next: 5,
		hwm:  5,
	}
	topic := &segmentTopic{client: sc, name: "events", partitions: 1, fetches: map[int32]*segmentFetch{0: fetch}}
	return topic, fetch
}

func TestSegmentConsumeBrokenLeaderWaitsOutTimeout(t *testing.T) {
	topic, fetch := newBrokenLeaderTopic(t)
	defer func() {
		require.NoError(t, topic.ConsumeStop(0))
	}()

	start := time.Now()
	msg, err := topic.Consume(0, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Error(t, msg.Err)
	require.False(t, msg.IsEOF())
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	// the dead connection is dropped so the leader is dialled again
	require.Nil(t, fetch.conn)

	calls := 0
	start = time.Now()
	for time.Since(start) < 200*time.Millisecond {
		msg, err = topic.Consume(0, 50*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.Error(t, msg.Err)
		calls++
	}
	require.LessOrEqual(t, calls, 6)
	require.Nil(t, fetch.conn)
}
