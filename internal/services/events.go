package services

import (
	"context"
	"maps"
)

type eventLogger func(ctx context.Context, event string, fields map[string]any)

// publishAfterCommit hands event to publisher once the surrounding transaction commits.
// Publish failures are logged and never surface to the caller.
func publishAfterCommit(ctx context.Context, publisher EventPublisher, logger eventLogger, event FulfillmentEvent) {
	if publisher == nil {
		return
	}
	if event.Attributes != nil {
		event.Attributes = maps.Clone(event.Attributes)
	}
	afterCommit(ctx, func(ctx context.Context) {
		if err := publisher.PublishFulfillmentEvent(ctx, event); err != nil {
			logger(ctx, "fulfillment.event.publish.failed", map[string]any{
				"type":    event.Type,
				"subject": event.SubjectID,
				"error":   err.Error(),
			})
		}
	})
}

func noopLogger(context.Context, string, map[string]any) {}
