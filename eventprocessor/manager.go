package eventprocessor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"encore.app/ratelimitaudit"
	"encore.app/store"
)

// TokenStore is the narrow view of the non-fungible token store the
// manager needs: look a row up by its resourceId secondary index, then
// delete it by primary key.
type TokenStore interface {
	FindByResourceID(ctx context.Context, resourceID string) (coord, reservationID string, found bool, err error)
	DeleteReservation(ctx context.Context, coord, reservationID string) error
}

// Manager routes termination events to the registered Processor for their
// source, extracts the resource id, and releases the corresponding
// non-fungible token exactly once per id.
type Manager struct {
	tokens  TokenStore
	cache   *idempotenceCache
	auditor ratelimitaudit.Recorder

	mu         sync.RWMutex
	processors map[string]*Processor
}

// NewManager constructs an empty Manager. cacheSize <= 0 uses
// defaultIdempotenceCacheSize. auditor may be nil to disable auditing of
// event-triggered deletes.
func NewManager(tokens TokenStore, cacheSize int, auditor ratelimitaudit.Recorder) *Manager {
	return &Manager{
		tokens:     tokens,
		cache:      newIdempotenceCache(cacheSize),
		auditor:    auditor,
		processors: make(map[string]*Processor),
	}
}

// AddProcessor registers p under its canonical source:detail_type key (or
// bare source if DetailType is empty), the canonical key per the composite
// lookup Process performs -- not the bare source some source revisions
// drifted to register under.
func (m *Manager) AddProcessor(p *Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors[canonicalKey(p.Source, p.DetailType)] = p
}

// Process validates event, extracts a resource id via the matching
// Processor, and deletes the corresponding non-fungible token row if this
// id has not already been processed by this Manager.
func (m *Manager) Process(ctx context.Context, event map[string]any) error {
	source, ok := event["source"].(string)
	if !ok || source == "" {
		return ErrInvalidEvent
	}
	detailType, _ := event["detail-type"].(string)

	proc, err := m.lookupProcessor(source, detailType)
	if err != nil {
		return err
	}

	id, matched := proc.testAndGetID(event)
	if !matched {
		return nil
	}

	if m.cache.seen(id) {
		return nil
	}

	coord, reservationID, found, err := m.tokens.FindByResourceID(ctx, id)
	if err != nil {
		return fmt.Errorf("eventprocessor: lookup resourceId %q: %w", id, err)
	}
	if !found {
		log.Printf("[WARN] eventprocessor: no token row for resourceId %q (source=%s)", id, source)
		m.cache.mark(id)
		return nil
	}

	if err := m.tokens.DeleteReservation(ctx, coord, reservationID); err != nil {
		return fmt.Errorf("eventprocessor: delete reservation %q: %w", reservationID, err)
	}

	m.cache.mark(id)
	if m.auditor != nil {
		resourceName, _, _ := strings.Cut(coord, ":")
		m.auditor.RecordReservationEvent(ctx, ratelimitaudit.Event{
			Action:        "event_delete",
			ReservationID: reservationID,
			ResourceName:  resourceName,
			ResourceID:    id,
		})
	}
	log.Printf("[INFO] eventprocessor: released token for resourceId %q (source=%s)", id, source)
	return nil
}

func (m *Manager) lookupProcessor(source, detailType string) (*Processor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if detailType != "" {
		if p, ok := m.processors[canonicalKey(source, detailType)]; ok {
			return p, nil
		}
	}
	if p, ok := m.processors[source]; ok {
		return p, nil
	}
	return nil, ErrUnknownSource
}

// gatewayTokenStore adapts a store.Gateway against the non-fungible-tokens
// table and its resourceId-keyed secondary index into a TokenStore.
type gatewayTokenStore struct {
	gateway   store.Gateway
	tableName string
	indexName string
}

// NewGatewayTokenStore constructs a TokenStore backed by gateway.
func NewGatewayTokenStore(gateway store.Gateway, tableName, indexName string) TokenStore {
	return &gatewayTokenStore{gateway: gateway, tableName: tableName, indexName: indexName}
}

func (g *gatewayTokenStore) FindByResourceID(ctx context.Context, resourceID string) (string, string, bool, error) {
	result, err := g.gateway.Query(ctx, store.QueryRequest{
		Table:             g.tableName,
		IndexName:         g.indexName,
		PartitionKeyName:  "resourceId",
		PartitionKeyValue: resourceID,
		Limit:             1,
	})
	if err != nil {
		return "", "", false, err
	}
	if len(result.Items) == 0 {
		return "", "", false, nil
	}

	row := result.Items[0]
	coord, _ := row["resourceCoordinate"].(string)
	reservationID, _ := row["reservationId"].(string)
	return coord, reservationID, true, nil
}

func (g *gatewayTokenStore) DeleteReservation(ctx context.Context, coord, reservationID string) error {
	return g.gateway.Delete(ctx, g.tableName, store.Item{
		"resourceCoordinate": coord,
		"reservationId":      reservationID,
	})
}
