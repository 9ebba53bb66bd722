package session

import (
	"testing"
	"time"

	"github.com/squareup/ksession/common/commontest"
	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/stretchr/testify/require"
)

func newFakeConfig(t *testing.T, topic string) (*kafka.FakeKafka, *conf.Config) {
	t.Helper()
	fk := kafka.NewFakeKafka()
	return fk, conf.NewTestConfig(fk.ID, topic)
}

type failingFactory struct {
	err error
}

func (f *failingFactory) NewClient(kafka.Mode, map[string]string, kafka.Callbacks) (kafka.Client, error) {
	return nil, f.err
}

func TestOpenRejectsMissingBrokers(t *testing.T) {
	_, cfg := newFakeConfig(t, "events")
	cfg.Brokers = nil
	_, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.True(t, errors.IsConfigError(err))

	cfg.Brokers = []string{"localhost:9092", " "}
	_, err = Open(cfg, kafka.ModeProducer, nil, nil)
	require.True(t, errors.IsConfigError(err))
	require.True(t, errors.IsFatal(err))
}

func TestOpenNoValidBrokers(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	cfg.Brokers = []string{"bad host", "localhost:notaport"}
	_, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.True(t, errors.IsConnectivityError(err))
	clients := fk.Clients()
	require.Equal(t, 1, len(clients))
	require.True(t, clients[0].Closed())
}

func TestOpenClientConstructionFails(t *testing.T) {
	_, cfg := newFakeConfig(t, "events")
	_, err := Open(cfg, kafka.ModeConsumer, &failingFactory{err: errors.New("out of file descriptors")}, nil)
	require.True(t, errors.IsResourceError(err))
	require.Contains(t, err.Error(), "out of file descriptors")
}

func TestOpenUnknownFakeKafka(t *testing.T) {
	cfg := conf.NewTestConfig(987654321, "events")
	_, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.True(t, errors.IsConfigError(err))
}

func TestBindTopicFailure(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	fk.SetAutoCreateTopics(false)
	conn, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.BindTopic("events")
	require.True(t, errors.IsTopicError(err))
	require.True(t, errors.Is(err, kafka.ErrUnknownTopic))
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	fk, cfg := newFakeConfig(t, "events")
	conn, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.NoError(t, err)
	_, err = conn.BindTopic("events")
	require.NoError(t, err)

	conn.Close()
	conn.Close()
	require.True(t, conn.Closed())
	client := fk.Clients()[0]
	require.True(t, client.Closed())
	require.Equal(t, 1, client.CloseCalls())

	_, err = conn.BindTopic("events")
	require.True(t, errors.HasCode(err, errors.SessionClosed))
	require.Equal(t, 0, conn.OutQueueLen())
	require.Equal(t, 0, conn.Poll(0))
}

func TestConnectionCloseTimeoutIsNotEscalated(t *testing.T) {
	_, cfg := newFakeConfig(t, "events")
	cfg.Properties[kafka.FakeDestroyDelayPropName] = "1h"
	cfg.DestroyTimeout = 20 * time.Millisecond
	conn, err := Open(cfg, kafka.ModeProducer, nil, nil)
	require.NoError(t, err)
	commontest.RequireDurationBelow(t, time.Second, conn.Close)
	require.True(t, conn.Closed())
}

func TestClientProperties(t *testing.T) {
	_, cfg := newFakeConfig(t, "events")
	cfg.MessageMaxBytes = 2048
	cfg.Properties["group.id"] = "readers"
	cfg.TLS.CACert = "/etc/ssl/ca.pem"

	props := clientProperties(cfg, kafka.ModeConsumer)
	require.Equal(t, "2048", props[kafka.MessageMaxBytesPropName])
	require.Equal(t, "readers", props[kafka.GroupIDPropName])
	require.Equal(t, "ssl", props["security.protocol"])
	require.Equal(t, "/etc/ssl/ca.pem", props["ssl.ca.location"])

	delete(cfg.Properties, "group.id")
	props = clientProperties(cfg, kafka.ModeProducer)
	_, ok := props[kafka.GroupIDPropName]
	require.False(t, ok)
	props = clientProperties(cfg, kafka.ModeConsumer)
	require.Equal(t, conf.DefaultGroupID, props[kafka.GroupIDPropName])
}
