// Package eventprocessor translates external termination events (cluster
// shutdowns, batch job completions) into release of the corresponding
// non-fungible rate-limiter token, so quota frees up before the row's TTL
// would otherwise reclaim it.
package eventprocessor

import (
	"context"
	"errors"
	"sync"

	"encore.dev/pubsub"

	"encore.app/ratelimitaudit"
	"encore.app/ratelimiter"
	"encore.app/store"
)

// TerminationEvent is the wire shape published to TerminationEventsTopic.
// Fields mirror the AWS EventBridge envelope (source, detail-type, detail)
// since the seed processors are grounded on EventBridge-shaped sources.
type TerminationEvent struct {
	Source     string         `json:"source"`
	DetailType string         `json:"detail-type"`
	Detail     map[string]any `json:"detail"`
}

// toPayload flattens TerminationEvent into the map[string]any shape
// Processor/Predicate evaluate dotted paths against.
func (e *TerminationEvent) toPayload() map[string]any {
	return map[string]any{
		"source":      e.Source,
		"detail-type": e.DetailType,
		"detail":      e.Detail,
	}
}

// TerminationEventsTopic carries termination events from whichever
// external system observes them to this service's subscription.
var TerminationEventsTopic = pubsub.NewTopic[*TerminationEvent](
	"termination-events",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

//encore:service
type Service struct {
	manager *Manager
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	var err error
	once.Do(func() {
		tables, tErr := ratelimiter.ResolveTableNames(ratelimiter.TableNames{})
		if tErr != nil {
			err = tErr
			return
		}

		// The event processor only looks up and deletes token rows
		// through its own gateway (paced by STORE_MAX_RPS when set,
		// like the ratelimiter service's) and shares no in-process
		// state with the ratelimiter service.
		gateway, gErr := store.NewDefaultDynamoGateway(context.Background())
		if gErr != nil {
			err = gErr
			return
		}

		auditLogger, aErr := ratelimitaudit.NewDefaultLogger()
		if aErr != nil {
			err = aErr
			return
		}

		tokens := NewGatewayTokenStore(gateway, tables.NonFungibleTokens, tables.NonFungibleIndex)
		manager := NewManager(tokens, defaultIdempotenceCacheSize, ratelimitaudit.NewAdapter(auditLogger))
		RegisterSeedProcessors(manager)

		svc = &Service{manager: manager}
	})
	return svc, err
}

var _ = pubsub.NewSubscription(
	TerminationEventsTopic,
	"eventprocessor-termination",
	pubsub.SubscriptionConfig[*TerminationEvent]{
		Handler: HandleTerminationEvent,
	},
)

// HandleTerminationEvent is the pubsub handler invoked for every delivered
// termination event.
func HandleTerminationEvent(ctx context.Context, event *TerminationEvent) error {
	if svc == nil {
		return errors.New("eventprocessor: service not initialized")
	}
	return svc.manager.Process(ctx, event.toPayload())
}
