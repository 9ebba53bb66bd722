package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/squareup/ksession/errors"
	"github.com/squareup/ksession/kafka"
	"github.com/stretchr/testify/require"
)

func fakeArgs(fk *kafka.FakeKafka, args ...string) []string {
	return append([]string{
		"--client-type=fake",
		"--brokers=localhost:9092",
		fmt.Sprintf("--property=fakeKafkaID=%d", fk.ID),
		"--fetch-wait=10ms",
		"--drain-poll-interval=1ms",
	}, args...)
}

func TestProduceArgsThenConsume(t *testing.T) {
	fk := kafka.NewFakeKafka()
	out := &bytes.Buffer{}
	err := run(context.Background(), fakeArgs(fk, "--topic=events", "produce", "one", "two", "three"), nil, out)
	require.NoError(t, err)
	require.Equal(t, "", out.String())

	err = run(context.Background(), fakeArgs(fk, "--topic=events", "consume", "beginning", "-n", "3"), nil, out)
	require.NoError(t, err)
	require.Equal(t, "0\tone\n1\ttwo\n2\tthree\n", out.String())
}

func TestProduceFromStdin(t *testing.T) {
	fk := kafka.NewFakeKafka()
	in := strings.NewReader("alpha\nbeta\n\ngamma")
	err := run(context.Background(), fakeArgs(fk, "-t", "events", "produce"), in, &bytes.Buffer{})
	require.NoError(t, err)

	topic, ok := fk.GetTopic("events")
	require.True(t, ok)
	var payloads []string
	for _, msg := range topic.Messages(0) {
		payloads = append(payloads, string(msg.Value))
	}
	require.Equal(t, []string{"alpha", "beta", "gamma"}, payloads)
}

func TestProduceWithCustomDelimiter(t *testing.T) {
	fk := kafka.NewFakeKafka()
	in := strings.NewReader("a|b|c")
	err := run(context.Background(), fakeArgs(fk, "-t", "events", "produce", "--delimiter=|"), in, &bytes.Buffer{})
	require.NoError(t, err)
	topic, _ := fk.GetTopic("events")
	require.Equal(t, 3, len(topic.Messages(0)))
}

func TestConsumeEndOfIdlePartition(t *testing.T) {
	fk := kafka.NewFakeKafka()
	_, err := fk.CreateTopic("events", 1)
	require.NoError(t, err)
	out := &bytes.Buffer{}
	err = run(context.Background(), fakeArgs(fk, "-t", "events", "consume", "end"), nil, out)
	require.NoError(t, err)
	require.Equal(t, "", out.String())
}

func TestSetupErrorsAreReturned(t *testing.T) {
	fk := kafka.NewFakeKafka()
	err := run(context.Background(), fakeArgs(fk, "produce", "x"), nil, &bytes.Buffer{})
	require.True(t, errors.IsConfigError(err))

	fk.SetAutoCreateTopics(false)
	err = run(context.Background(), fakeArgs(fk, "-t", "missing", "consume"), nil, &bytes.Buffer{})
	require.True(t, errors.IsTopicError(err))
	require.True(t, errors.IsFatal(err))

	err = run(context.Background(), fakeArgs(fk, "-t", "events", "--brokers=bad host", "produce", "x"), nil, &bytes.Buffer{})
	require.True(t, errors.IsConnectivityError(err))
}

func TestConfigFile(t *testing.T) {
	fk := kafka.NewFakeKafka()
	dir := t.TempDir()
	path := filepath.Join(dir, "ksession.hcl")
	hcl := `
client-type = "fake"
brokers = "localhost:9092"
topic = "from-file"
fetch-wait = "10ms"
`
	require.NoError(t, ioutil.WriteFile(path, []byte(hcl), 0600))

	args := []string{"--config", path, fmt.Sprintf("--property=fakeKafkaID=%d", fk.ID), "produce", "x"}
	err := run(context.Background(), args, nil, &bytes.Buffer{})
	require.NoError(t, err)
	_, ok := fk.GetTopic("from-file")
	require.True(t, ok)
}
