package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/squareup/ksession/common/commontest"
	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/failinject"
	"github.com/squareup/ksession/kafka"
	"github.com/stretchr/testify/require"
)

func ingestRecords(t *testing.T, fk *kafka.FakeKafka, topicName string, n int) {
	t.Helper()
	if _, ok := fk.GetTopic(topicName); !ok {
		_, err := fk.CreateTopic(topicName, 1)
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		err := fk.IngestMessage(topicName, &kafka.Message{Value: []byte(fmt.Sprintf("record-%d", i))})
		require.NoError(t, err)
	}
}

func requireRecords(t *testing.T, res map[int64][]byte, offsets ...int64) {
	t.Helper()
	require.Equal(t, len(offsets), len(res))
	for _, off := range offsets {
		require.Equal(t, fmt.Sprintf("record-%d", off), string(res[off]))
	}
}

func TestConsumeCountLimitsFetchIterations(t *testing.T) {
	for _, policy := range []conf.EOFPolicy{conf.EOFPolicyStop, conf.EOFPolicyContinue} {
		t.Run(string(policy), func(t *testing.T) {
			fk, cfg := newFakeConfig(t, "events")
			cfg.EOFPolicy = policy
			ingestRecords(t, fk, "events", 10)

			c := NewConsumer(cfg, nil)
			res, err := c.Consume(context.Background(), "beginning", 3)
			require.NoError(t, err)
			requireRecords(t, res, 0, 1, 2)
			require.Equal(t, 3, fk.Clients()[0].FetchCalls())
			require.Equal(t, int64(3), c.Stats().Iterations)
			require.Equal(t, ConsumerStopped, c.State())
		})
	}
}

func TestConsumeCountIncludesEmptyFetches(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.EOFPolicy = conf.EOFPolicyContinue
	ingestRecords(t, fk, "events", 2)

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "beginning", 5)
	require.NoError(t, err)
	requireRecords(t, res, 0, 1)
	stats := c.Stats()
	require.Equal(t, int64(5), stats.Iterations)
	require.Equal(t, int64(1), stats.EOFs)
	require.Equal(t, int64(2), stats.Timeouts)
	require.Equal(t, 5, fk.Clients()[0].FetchCalls())
}

func TestConsumeStopsAtEndOfPartition(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 4)

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "end", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))
	require.Equal(t, ConsumerEndOfStream, c.State())

	client := fk.Clients()[0]
	require.Equal(t, 1, client.FetchCalls())
	require.Equal(t, 1, client.ConsumeStops())
	require.Equal(t, 1, client.CloseCalls())
	require.True(t, client.Closed())
}

func TestConsumeUnboundedReadsToEnd(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 6)

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "2", 0)
	require.NoError(t, err)
	requireRecords(t, res, 2, 3, 4, 5)
	require.Equal(t, 5, fk.Clients()[0].FetchCalls())
}

func TestConsumeSkipsFetchErrors(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 2)
	fk.Injector.GetFailpoint(failinject.FakeFetch).SetFailAction(failinject.FailTimes(1, errors.New("transport failure")))

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "beginning", 0)
	require.NoError(t, err)
	requireRecords(t, res, 0, 1)
	require.Equal(t, int64(1), c.Stats().FetchErrors)
}

func TestConsumeOffsetOutOfRange(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 3)

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "100", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))
	stats := c.Stats()
	require.Equal(t, int64(1), stats.FetchErrors)
	require.Equal(t, int64(1), stats.EOFs)
}

func TestConsumeStartFailureIsFatal(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 1)

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "-7", 0)
	require.Nil(t, res)
	require.True(t, errors.HasCode(err, errors.ConsumeStartFailed))
	require.True(t, errors.IsFatal(err))
	require.True(t, errors.Is(err, kafka.ErrInvalidOffset))
	require.Equal(t, ConsumerError, c.State())

	client := fk.Clients()[0]
	require.Equal(t, 0, client.FetchCalls())
	require.True(t, client.Closed())
}

func TestConsumeTopicUnavailable(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	fk.SetAutoCreateTopics(false)

	c := NewConsumer(cfg, nil)
	_, err := c.Consume(context.Background(), "beginning", 0)
	require.True(t, errors.IsTopicError(err))
	require.True(t, fk.Clients()[0].Closed())
}

func TestConsumeInvalidConfig(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.Topic = ""
	_, err := NewConsumer(cfg, nil).Consume(context.Background(), "beginning", 0)
	require.True(t, errors.IsConfigError(err))
	require.Equal(t, 0, len(fk.Clients()))
}

func TestConsumeStopsWhenContextDone(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.EOFPolicy = conf.EOFPolicyContinue
	ingestRecords(t, fk, "events", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := NewConsumer(cfg, nil)
	var res map[int64][]byte
	commontest.RequireDurationBelow(t, 5*time.Second, func() {
		var err error
		res, err = c.Consume(ctx, "beginning", 0)
		require.NoError(t, err)
	})
	requireRecords(t, res, 0)
	require.Equal(t, ConsumerStopped, c.State())
	require.Equal(t, 1, fk.Clients()[0].CloseCalls())
}

func TestConsumeInterrupt(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.EOFPolicy = conf.EOFPolicyContinue
	ingestRecords(t, fk, "events", 1)

	c := NewConsumer(cfg, nil)
	timer := time.AfterFunc(50*time.Millisecond, c.Interrupt)
	defer timer.Stop()
	res, err := c.Consume(context.Background(), "beginning", 0)
	require.NoError(t, err)
	requireRecords(t, res, 0)
	require.Equal(t, ConsumerStopped, c.State())

	// the next invocation gets a fresh run flag
	res, err = c.Consume(context.Background(), "beginning", 1)
	require.NoError(t, err)
	requireRecords(t, res, 0)
}

func TestConsumeSeesRecordsAppendedWhileWaiting(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.EOFPolicy = conf.EOFPolicyContinue
	cfg.FetchWait = time.Second
	ingestRecords(t, fk, "events", 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fk.IngestMessage("events", &kafka.Message{Value: []byte("record-0")})
	}()
	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "beginning", 2)
	require.NoError(t, err)
	requireRecords(t, res, 0)
}

func TestEmptyTokenReusesLastOffset(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 10)

	c := NewConsumer(cfg, nil)
	require.Equal(t, kafka.OffsetBeginning, c.DefaultOffset())
	res, err := c.Consume(context.Background(), "", 1)
	require.NoError(t, err)
	requireRecords(t, res, 0)

	res, err = c.Consume(context.Background(), "5", 1)
	require.NoError(t, err)
	requireRecords(t, res, 5)
	require.Equal(t, int64(5), c.DefaultOffset())

	res, err = c.Consume(context.Background(), "", 2)
	require.NoError(t, err)
	requireRecords(t, res, 5, 6)
}

func TestConfiguredDefaultOffset(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.DefaultOffset = "end"
	ingestRecords(t, fk, "events", 3)

	c := NewConsumer(cfg, nil)
	require.Equal(t, kafka.OffsetEnd, c.DefaultOffset())
	res, err := c.Consume(context.Background(), "", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))
}

func TestConsumeStoredOffset(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	ingestRecords(t, fk, "events", 6)
	topic, _ := fk.GetTopic("events")

	c := NewConsumer(cfg, nil)
	res, err := c.Consume(context.Background(), "stored", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))

	require.NoError(t, topic.CommitOffset(conf.DefaultGroupID, 0, 3))
	res, err = c.Consume(context.Background(), "stored", 0)
	require.NoError(t, err)
	requireRecords(t, res, 3, 4, 5)
}

func TestUnassignedPartitionConsumesPartitionZero(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	_, err := fk.CreateTopic("events", 2)
	require.NoError(t, err)
	require.NoError(t, fk.IngestMessage("events", &kafka.Message{Value: []byte("record-0")}))
	require.NoError(t, fk.IngestMessage("events", &kafka.Message{
		PartInfo: kafka.PartInfo{PartitionID: 1},
		Value:    []byte("other"),
	}))
	require.Equal(t, kafka.PartitionUnassigned, cfg.Partition)

	res, err := NewConsumer(cfg, nil).Consume(context.Background(), "beginning", 0)
	require.NoError(t, err)
	requireRecords(t, res, 0)
}

func TestStatsReadDuringConsume(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.EOFPolicy = conf.EOFPolicyContinue
	ingestRecords(t, fk, "events", 3)

	c := NewConsumer(cfg, nil)
	_, err := c.Consume(context.Background(), "beginning", 4)
	require.NoError(t, err)
	require.Equal(t, int64(4), c.Stats().Iterations)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				stats := c.Stats()
				require.LessOrEqual(t, stats.Consumed, int64(3))
			}
		}
	}()
	res, err := c.Consume(context.Background(), "1", 2)
	close(stop)
	<-done
	require.NoError(t, err)
	requireRecords(t, res, 1, 2)
	// counters start again for every invocation
	stats := c.Stats()
	require.Equal(t, int64(2), stats.Iterations)
	require.Equal(t, int64(2), stats.Consumed)
}

func TestConsumerStateNames(t *testing.T) {
	require.Equal(t, "starting", ConsumerStarting.String())
	require.Equal(t, "end-of-stream", ConsumerEndOfStream.String())
	require.Equal(t, "unknown", ConsumerState(99).String())
	require.True(t, ConsumerError.terminal())
	require.False(t, ConsumerDelivering.terminal())
}
