// README: Pushes committed order transitions into order rooms.
package realtime

import (
	"context"
	"log"
	"time"

	"tabla/internal/events"
)

const EnvelopeStatus = "status"

// ForwardTransitions pushes every committed order transition into the order
// room so watchers see status changes without polling.
func ForwardTransitions(bus *events.Bus, fanout Fanout) events.SubscriberID {
	return bus.SubscribeTypes(func(evt events.Event) {
		p, ok := evt.Payload.(events.OrderTransitioned)
		if !ok {
			return
		}
		topic := OrderTopic(p.OrderID)
		env, err := NewEnvelope(EnvelopeStatus, topic, p)
		if err != nil {
			log.Printf("realtime: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := fanout.Broadcast(ctx, topic, env); err != nil {
			log.Printf("realtime: status push to %s failed: %v", topic, err)
		}
	}, events.TypeOrderTransitioned)
}
