// Package kafka publishes dispatch domain events to Kafka.
package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
)

// ClientConfig contains the settings for connecting a producer to Kafka.
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewProducerConfig returns the sarama configuration used for call events:
// every message is acknowledged by all in-sync replicas and partitioned by
// key so the events of one call stay ordered.
func NewProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectProducer creates a synchronous producer, retrying with exponential
// backoff for up to five minutes while the brokers are unreachable.
func ConnectProducer(cfg *ClientConfig) (sarama.SyncProducer, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect kafka producer after retries: %w", err)
	}
	return producer, nil
}
