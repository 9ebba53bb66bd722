package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*kafka.FakeKafka, *Session) {
	t.Helper()
	fk, cfg := newFakeConfig(t, "events")
	return fk, NewSession(cfg)
}

func TestProduceThenConsume(t *testing.T) {
	_, s := newTestSession(t)
	require.NoError(t, s.Connect("localhost:9092"))
	require.NoError(t, s.SetTopic("events"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Produce([]byte(fmt.Sprintf("record-%d", i))))
	}
	require.NoError(t, s.Shutdown(context.Background()))

	// a second session on the same broker
	s2 := NewSession(s.Config())
	res, err := s2.Consume(context.Background(), "beginning", 3)
	require.NoError(t, err)
	requireRecords(t, res, 0, 1, 2)
	require.NoError(t, s2.Shutdown(context.Background()))
}

func TestProduceAndConsumeInOneSession(t *testing.T) {
	fk, s := newTestSession(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Produce([]byte(fmt.Sprintf("record-%d", i))))
	}
	topic, ok := fk.GetTopic("events")
	require.True(t, ok)
	require.Equal(t, 3, len(topic.Messages(0)))

	res, err := s.Consume(context.Background(), "beginning", 0)
	require.NoError(t, err)
	requireRecords(t, res, 0, 1, 2)

	res, err = s.Consume(context.Background(), "end", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestSessionOwnsItsConfig(t *testing.T) {
	_, cfg := newFakeConfig(t, "events")
	s := NewSession(cfg)
	require.NoError(t, s.SetTopic("other"))
	require.Equal(t, "events", cfg.Topic)
	require.Equal(t, "other", s.Config().Topic)
}

func TestSettersValidate(t *testing.T) {
	_, s := newTestSession(t)
	require.True(t, errors.IsConfigError(s.Connect("  ")))
	require.True(t, errors.IsConfigError(s.SetTopic("")))
	require.True(t, errors.IsConfigError(s.SetPartition(-2)))

	require.NoError(t, s.Connect("broker1:9092, broker2"))
	require.Equal(t, []string{"broker1:9092", "broker2"}, s.Config().Brokers)
	require.NoError(t, s.SetPartition(kafka.PartitionUnassigned))
	require.NoError(t, s.SetPartition(3))
	require.Equal(t, int32(3), s.Config().Partition)
}

func TestSettersFailOnceProducerConnected(t *testing.T) {
	_, s := newTestSession(t)
	require.NoError(t, s.Produce([]byte("x")))
	require.True(t, errors.IsConfigError(s.Connect("other:9092")))
	require.True(t, errors.IsConfigError(s.SetTopic("other")))
	require.True(t, errors.IsConfigError(s.SetPartition(0)))
	require.Equal(t, "events", s.Config().Topic)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	fk, s := newTestSession(t)
	require.NoError(t, s.Produce([]byte("x")))
	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	clients := fk.Clients()
	require.Equal(t, 1, len(clients))
	require.Equal(t, 1, clients[0].CloseCalls())
}

func TestUseAfterShutdown(t *testing.T) {
	_, s := newTestSession(t)
	require.NoError(t, s.Shutdown(context.Background()))
	require.True(t, errors.HasCode(s.Produce([]byte("x")), errors.SessionClosed))
	_, err := s.Consume(context.Background(), "beginning", 1)
	require.True(t, errors.HasCode(err, errors.SessionClosed))
	require.True(t, errors.HasCode(s.SetTopic("other"), errors.SessionClosed))
}

func TestInterruptBeforeUse(t *testing.T) {
	fk, s := newTestSession(t)
	s.Interrupt()
	require.NoError(t, s.Produce([]byte("x")))
	require.NoError(t, s.Shutdown(context.Background()))
	topic, _ := fk.GetTopic("events")
	// the message went out on the produce poll, the interrupted flag only cuts the drain short
	require.Equal(t, 1, len(topic.Messages(0)))
}
