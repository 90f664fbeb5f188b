// Package kafka publishes the hub's audit trail (dispatch outcomes and
// session lifecycle) to Kafka. The hub itself never consumes from Kafka:
// delivery to devices rides the gRPC sessions, and losing audit events on a
// broker outage must never affect dispatching.
package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

// ClientConfig contains all configuration needed for Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewClient creates and configures a Kafka client with the provided
// settings.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Producer settings.
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Version should be consistent across all components.
	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectClient establishes the Kafka client with exponential backoff,
// retrying for up to five minutes. This rides out broker unavailability
// during startup ordering in containerized deployments.
func ConnectClient(cfg *ClientConfig) (sarama.Client, error) {
	var client sarama.Client

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		client, err = NewClient(cfg)
		return err
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return client, nil
}
