package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/cadenzr/cadenza/pkg/channels/gochannel"
	"github.com/cadenzr/cadenza/pkg/channels/kafka"
	"github.com/cadenzr/cadenza/pkg/eventbus"
)

// NewEventBus creates a bus on the given topic. The kafka provider reads
// broker addresses from KAFKA_BROKERS; gochannel is the in-process fallback
// for single-binary deployments.
func NewEventBus(provider, topic, serviceName string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(topic, pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(topic, pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
