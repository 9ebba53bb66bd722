package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/squareup/ksession/conf/tls"
	"github.com/squareup/ksession/errors"
)

const (
	DefaultMessageMaxBytes   = 1024 * 1024
	DefaultFetchWait         = 1000 * time.Millisecond
	DefaultDrainPollInterval = 50 * time.Millisecond
	DefaultDestroyTimeout    = 1000 * time.Millisecond
	DefaultOffset            = "beginning"
	DefaultGroupID           = "ksession"

	// MaxMessageMaxBytes is the largest message.max.bytes librdkafka accepts
	MaxMessageMaxBytes = 1000000000

	unassignedPartition int32 = -1
)

type EOFPolicy string

const (
	EOFPolicyStop     EOFPolicy = "stop"
	EOFPolicyContinue EOFPolicy = "continue"
)

type BrokerClientType int

const (
	BrokerClientTypeUnknown                  = 0
	BrokerClientFake        BrokerClientType = 1
	BrokerClientDefault                      = 2
)

func ParseBrokerClientType(s string) (BrokerClientType, error) {
	switch s {
	case "fake":
		return BrokerClientFake, nil
	case "", "default":
		return BrokerClientDefault, nil
	default:
		return BrokerClientTypeUnknown, errors.NewInvalidConfigurationError(fmt.Sprintf("unknown client type %q, must be fake or default", s))
	}
}

// Config is the configuration of a session. It is set by the caller before the first produce or consume and is not
// changed once a connection has been opened with it.
type Config struct {
	Brokers           []string          `json:"brokers,omitempty"`
	Topic             string            `json:"topic,omitempty"`
	Partition         int32             `json:"partition,omitempty"` // -1 lets the client choose
	ClientType        BrokerClientType  `json:"client_type,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"` // passed through to the client, librdkafka naming
	MessageMaxBytes   int               `json:"message_max_bytes,omitempty"`
	EOFPolicy         EOFPolicy         `json:"eof_policy,omitempty"`
	DefaultOffset     string            `json:"default_offset,omitempty"`
	FetchWait         time.Duration     `json:"fetch_wait,omitempty"`
	DrainPollInterval time.Duration     `json:"drain_poll_interval,omitempty"`
	FlushTimeout      time.Duration     `json:"flush_timeout,omitempty"` // zero waits until interrupted
	DestroyTimeout    time.Duration     `json:"destroy_timeout,omitempty"`
	TLS               tls.CertsConfig   `json:"tls,omitempty"`
}

func (c *Config) Validate() error { //nolint:gocyclo
	if c.Topic == "" {
		return errors.NewInvalidConfigurationError("Topic must be specified")
	}
	if c.Partition < unassignedPartition {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("Partition must be >= %d", unassignedPartition))
	}
	if c.ClientType != BrokerClientFake && c.ClientType != BrokerClientDefault {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("invalid ClientType, must be %d or %d",
			BrokerClientFake, BrokerClientDefault))
	}
	if c.MessageMaxBytes < 1 || c.MessageMaxBytes > MaxMessageMaxBytes {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("MessageMaxBytes must be in the range 1 to %d", MaxMessageMaxBytes))
	}
	if c.EOFPolicy != EOFPolicyStop && c.EOFPolicy != EOFPolicyContinue {
		return errors.NewInvalidConfigurationError("EOFPolicy must be either stop or continue")
	}
	if c.FetchWait < 1*time.Millisecond {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("FetchWait must be >= %d", time.Millisecond))
	}
	if c.DrainPollInterval < 1*time.Millisecond {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("DrainPollInterval must be >= %d", time.Millisecond))
	}
	if c.FlushTimeout < 0 {
		return errors.NewInvalidConfigurationError("FlushTimeout must be >= 0")
	}
	if c.DestroyTimeout < 1*time.Millisecond {
		return errors.NewInvalidConfigurationError(fmt.Sprintf("DestroyTimeout must be >= %d", time.Millisecond))
	}
	if c.TLS.Enabled() {
		if err := c.TLS.Validate(); err != nil {
			return errors.NewInvalidConfigurationError(err.Error())
		}
	}
	return nil
}

// StopOnEOF returns true if a consumer should stop when it reaches the end of the partition.
func (c *Config) StopOnEOF() bool {
	return c.EOFPolicy == EOFPolicyStop
}

// GroupID is the consumer group whose committed offsets are read for the stored offset.
func (c *Config) GroupID() string {
	if gid, ok := c.Properties["group.id"]; ok && gid != "" {
		return gid
	}
	return DefaultGroupID
}

// Copy returns a deep copy, so a session can own its configuration.
func (c *Config) Copy() Config {
	cp := *c
	cp.Brokers = append([]string(nil), c.Brokers...)
	if c.Properties != nil {
		cp.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

// ParseBrokers splits a comma separated broker list. Blank entries are kept so that validation can reject them.
func ParseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, len(parts))
	for i, part := range parts {
		brokers[i] = strings.TrimSpace(part)
	}
	return brokers
}

func NewDefaultConfig() *Config {
	return &Config{
		Partition:         unassignedPartition,
		ClientType:        BrokerClientDefault,
		Properties:        map[string]string{},
		MessageMaxBytes:   DefaultMessageMaxBytes,
		EOFPolicy:         EOFPolicyStop,
		DefaultOffset:     DefaultOffset,
		FetchWait:         DefaultFetchWait,
		DrainPollInterval: DefaultDrainPollInterval,
		DestroyTimeout:    DefaultDestroyTimeout,
	}
}

// NewTestConfig returns a configuration which uses the fake broker with the given id
func NewTestConfig(fakeKafkaID int64, topic string) *Config {
	cfg := NewDefaultConfig()
	cfg.Brokers = []string{"localhost:9092"}
	cfg.Topic = topic
	cfg.ClientType = BrokerClientFake
	cfg.Properties["fakeKafkaID"] = fmt.Sprintf("%d", fakeKafkaID)
	cfg.FetchWait = 10 * time.Millisecond
	cfg.DrainPollInterval = time.Millisecond
	return cfg
}
