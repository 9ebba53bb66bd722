package kafka

import (
	"fmt"

	"github.com/squareup/ksession/conf"
	"github.com/squareup/ksession/errors"
)

// NewClientFactory returns the factory for the configured client type. The default client is chosen at build time:
// confluent-kafka-go with the confluent build tag, segmentio/kafka-go otherwise.
func NewClientFactory(clientType conf.BrokerClientType, props map[string]string) (ClientFactory, error) {
	switch clientType {
	case conf.BrokerClientFake:
		return NewFakeClientFactory(props)
	case conf.BrokerClientDefault:
		return newDefaultClientFactory(), nil
	default:
		return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("unsupported broker client type %d", clientType))
	}
}
