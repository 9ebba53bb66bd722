//go:build integration

package kafkatest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/session"
	"github.com/stretchr/testify/require"
)

func newBrokerConfig(broker *Broker, topic string) *conf.Config {
	cfg := conf.NewDefaultConfig()
	cfg.Brokers = []string{broker.Addr}
	cfg.Topic = topic
	cfg.FlushTimeout = 30 * time.Second
	return cfg
}

func TestProduceThenConsumeAgainstBroker(t *testing.T) {
	broker := RequireRedPanda(t)
	topic := fmt.Sprintf("events-%d", time.Now().UnixNano())
	broker.CreateTopic(t, topic, 1)

	producer := session.NewSession(newBrokerConfig(broker, topic))
	for i := 0; i < 3; i++ {
		require.NoError(t, producer.Produce([]byte(fmt.Sprintf("record-%d", i))))
	}
	require.NoError(t, producer.Shutdown(context.Background()))
	require.Equal(t, int64(3), producer.Producer().Stats().Delivered)

	consumer := session.NewSession(newBrokerConfig(broker, topic))
	defer func() {
		require.NoError(t, consumer.Shutdown(context.Background()))
	}()
	res, err := consumer.Consume(context.Background(), "beginning", 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(res))
	for i := 0; i < 3; i++ {
		require.Equal(t, fmt.Sprintf("record-%d", i), string(res[int64(i)]))
	}

	res, err = consumer.Consume(context.Background(), "end", 0)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))
}
