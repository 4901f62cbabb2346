// Package command contains write operations (CQRS - Commands).
package command

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// newID generates identifiers for transactions, habits and logs.
var newID = uuid.NewString

// publishAll sends events and logs failures. Event delivery never fails a command.
func publishAll(publisher shared.EventPublisher, logger *slog.Logger, events ...shared.Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(event); err != nil {
			logger.Warn("failed to publish event",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
