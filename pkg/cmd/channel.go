package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/harvestman-flow/harvestman/pkg/channels/gochannel"
	"github.com/harvestman-flow/harvestman/pkg/channels/kafka"
)

// NewChannel builds the relay transport for the requested provider. The
// service name keys the kafka consumer group; gochannel ignores it.
func NewChannel(provider string, logger *slog.Logger, serviceName string) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		publisher, subscriber, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka channel: %w", err)
		}

		return publisher, subscriber, nil
	case "gochannel", "":
		publisher, subscriber, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gochannel channel: %w", err)
		}

		return publisher, subscriber, nil
	default:
		return nil, nil, fmt.Errorf("unsupported channel provider %q", provider)
	}
}
