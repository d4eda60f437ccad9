// Package events adapts the telemetry bus to the structured logger: it is
// the reference "plugin" the CLI attaches to every engine it builds (when it
// has a logger), so events are logged even with no other subscriber
// configured. engine.Load itself does not attach it.
package events

import (
	"context"
	"sort"

	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/telemetry"
)

// taxonomy is the full event type list from the external interfaces section;
// AttachLoggingSink subscribes to each one individually since the bus has no
// wildcard subscription.
var taxonomy = []string{
	ports.EventTaskStarted, ports.EventTaskCompleted, ports.EventTaskFailed, ports.EventTaskCancelled,
	ports.EventNodeStarted, ports.EventNodeCompleted, ports.EventNodeFailed,
	ports.EventContextAssembled, ports.EventContextDegraded,
	ports.EventRoutingDecision, ports.EventRoutingBranch, ports.EventRoutingSplit, ports.EventRoutingMerge,
	ports.EventCloneCreated, ports.EventSubtaskCreated,
	ports.EventToolInvoked, ports.EventToolCompleted, ports.EventToolFailed,
	ports.EventCheckpointSaved, ports.EventCheckpointRestored,
	ports.EventPluginError, ports.EventQueueFull, ports.EventQueued, ports.EventDequeued,
}

// AttachLoggingSink subscribes a logging handler to every event type on bus.
// It returns the subscriptions so the caller can unsubscribe them all (e.g.
// in tests) without reaching into the bus's internals.
func AttachLoggingSink(bus *telemetry.Bus, logger ports.Logger) ([]ports.Subscription, error) {
	handler := loggingHandler(logger)
	subs := make([]ports.Subscription, 0, len(taxonomy))
	for _, eventType := range taxonomy {
		sub, err := bus.Subscribe(eventType, handler)
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func loggingHandler(logger ports.Logger) ports.EventHandler {
	return func(ctx context.Context, event ports.DomainEvent) error {
		if logger == nil {
			return nil
		}
		fields := []interface{}{"event_type", event.EventType()}
		if e, ok := event.(telemetry.Event); ok {
			fields = append(fields, "event_id", e.ID, "task_id", e.TaskID, "node_id", e.NodeID)
		}
		switch payload := event.Payload().(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(payload))
			for key := range payload {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fields = append(fields, key, payload[key])
			}
		case nil:
		default:
			fields = append(fields, "payload", payload)
		}
		logger.Info(ctx, "domain event", fields...)
		return nil
	}
}
