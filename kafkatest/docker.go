// Package kafkatest starts a real broker for integration tests.
package kafkatest

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest"
	dc "github.com/ory/dockertest/docker"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const redpandVersion = "v21.7.6"
const kafkaAPIPort = "9092"

// Broker is a Kafka API compatible broker running in docker, or one which was already listening on kafkaAPIPort.
type Broker struct {
	Addr      string
	container *dockertest.Resource
}

// Stop the container. A broker which was already running is left alone.
func (b *Broker) Stop() error {
	if b == nil || b.container == nil {
		return nil
	}
	return b.container.Close()
}

// CreateTopic creates a topic with numPartitions partitions and waits until its leaders are known.
func (b *Broker) CreateTopic(t *testing.T, topicName string, numPartitions int) {
	t.Helper()
	conn, err := kafka.Dial("tcp", b.Addr)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()
	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer func() {
		_ = cconn.Close()
	}()
	require.NoError(t, cconn.CreateTopics(kafka.TopicConfig{Topic: topicName, NumPartitions: numPartitions, ReplicationFactor: -1}))

	require.Eventually(t, func() bool {
		parts, err := conn.ReadPartitions(topicName)
		return err == nil && len(parts) == numPartitions
	}, 30*time.Second, 100*time.Millisecond)
}

// RequireRedPanda runs RedPanda to serve as Kafka. RedPanda is API-compatible with Kafka and significantly faster.
// If the Kafka API is already healthy on kafkaAPIPort, no container is created.
func RequireRedPanda(t *testing.T) *Broker {
	t.Helper()

	var container *dockertest.Resource
	if err := checkKafkaHealth(kafkaAPIPort); err == nil {
		log.Warn("Kafka already running on kafkaAPIPort " + kafkaAPIPort)
	} else {
		container = runRedPanda(t)
	}
	return &Broker{
		Addr:      "localhost:" + kafkaAPIPort,
		container: container,
	}
}

func runRedPanda(t *testing.T) *dockertest.Resource {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	pool.MaxWait = 60 * time.Second

	log.Info("Starting RedPanda on :" + kafkaAPIPort)
	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Name:       "ksession-redpanda",
		Repository: "docker.vectorized.io/vectorized/redpanda",
		Tag:        redpandVersion,
		Cmd: []string{
			"redpanda",
			"start",
			"--overprovisioned",
			"--smp 1 ",
			"--memory 1G",
			"--reserve-memory 0M",
			"--node-id 0",
			"--check=false",
			"--kafka-addr 0.0.0.0:" + kafkaAPIPort,
			"--advertise-kafka-addr localhost:" + kafkaAPIPort,
		},
		ExposedPorts: []string{kafkaAPIPort},
		PortBindings: map[dc.Port][]dc.PortBinding{
			kafkaAPIPort: {{HostPort: kafkaAPIPort}},
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Close(); err != nil {
			t.Logf("failed to stop redpanda: %v", err)
		}
	})

	err = pool.Retry(func() error {
		err := checkKafkaHealth(kafkaAPIPort)
		if err != nil {
			log.Infof("kafka connection not ready: %v", err)
		}
		return err
	})
	require.NoError(t, err)

	return container
}

func checkKafkaHealth(port string) error {
	conn, err := kafka.Dial("tcp", "localhost:"+port)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	// Read metadata to ensure Kafka is available.
	_, err = conn.Brokers()
	return err
}
