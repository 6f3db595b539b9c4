package ratelimiter

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"encore.app/ratelimitaudit"
	"encore.app/store"
)

// DefaultReservationTTLSec is how long an un-promoted reservation row lives
// before the store reclaims it, chosen to exceed the longest expected
// caller lifetime before promotion.
const DefaultReservationTTLSec = 300

// DefaultTokenTTLSec is the default token lifetime after promotion.
const DefaultTokenTTLSec = 28800

// reservationState is the internal state of a Reservation handle.
type reservationState int

const (
	statePending reservationState = iota
	statePromoted
	stateCancelled
)

// NonFungibleTokenManager is the admission counter + reservation issuer for
// one resource's long-lived, one-per-external-instance tokens.
type NonFungibleTokenManager struct {
	gateway   store.Gateway
	limits    *LimitDirectory
	tableName string
	indexName string

	resourceName string
	defaultLimit int64

	// auditor receives lifecycle events (create/promote/cancel);
	// nil disables auditing. Best-effort, never blocks the state
	// transition it records.
	auditor ratelimitaudit.Recorder
}

// NewNonFungibleTokenManager constructs a manager for resourceName against
// the non-fungible-tokens table and its resourceId-keyed secondary index.
func NewNonFungibleTokenManager(gateway store.Gateway, limits *LimitDirectory, tableName, indexName, resourceName string, defaultLimit int64, auditor ratelimitaudit.Recorder) *NonFungibleTokenManager {
	return &NonFungibleTokenManager{
		gateway:      gateway,
		limits:       limits,
		tableName:    tableName,
		indexName:    indexName,
		resourceName: resourceName,
		defaultLimit: defaultLimit,
		auditor:      auditor,
	}
}

// AcquireReservation reserves one slot for accountID and returns a handle
// the caller must promote or cancel. Fails with ErrCapacityExhausted if the
// account already holds limit non-expired rows for this resource.
func (m *NonFungibleTokenManager) AcquireReservation(ctx context.Context, accountID string) (*Reservation, error) {
	limit, err := m.limits.GetLimit(ctx, m.resourceName, accountID, m.defaultLimit, 0)
	if err != nil {
		return nil, err
	}

	t := nowSec()
	coord := m.resourceName + ":" + accountID

	count, err := m.gateway.Query(ctx, store.QueryRequest{
		Table:             m.tableName,
		PartitionKeyName:  "resourceCoordinate",
		PartitionKeyValue: coord,
		Filter: &store.Condition{
			GreaterThan:      "expirationTime",
			GreaterThanValue: float64(t),
		},
		CountOnly:      true,
		ConsistentRead: true,
	})
	if err != nil {
		switch err {
		case store.ErrThrottled:
			return nil, ErrThrottled
		default:
			return nil, &RateLimiterError{Op: "AcquireReservation.count", Err: err}
		}
	}
	if int64(count.Count) >= limit.Limit {
		return nil, ErrCapacityExhausted
	}

	rid := uuid.NewString()
	err = m.gateway.ConditionalPut(ctx, store.PutRequest{
		Table: m.tableName,
		Item: store.Item{
			"resourceCoordinate": coord,
			"reservationId":      rid,
			"resourceName":       m.resourceName,
			"accountId":          accountID,
			"resourceId":         rid,
			"expirationTime":     t + DefaultReservationTTLSec,
		},
	})
	if err != nil {
		switch err {
		case store.ErrThrottled:
			return nil, ErrThrottled
		default:
			return nil, &RateLimiterError{Op: "AcquireReservation.create", Err: err}
		}
	}

	m.audit(ctx, ratelimitaudit.Event{
		Action:        "create",
		ReservationID: rid,
		ResourceName:  m.resourceName,
		AccountID:     accountID,
		ResourceID:    rid,
	})

	return &Reservation{
		ID:           rid,
		ResourceName: m.resourceName,
		AccountID:    accountID,
		coord:        coord,
		tableName:    m.tableName,
		gateway:      m.gateway,
		auditor:      m.auditor,
		state:        statePending,
	}, nil
}

func (m *NonFungibleTokenManager) audit(ctx context.Context, event ratelimitaudit.Event) {
	if m.auditor == nil {
		return
	}
	m.auditor.RecordReservationEvent(ctx, event)
}

// Promote converts accountID's reservationID into a long-lived token
// identified by resourceID, without requiring the caller to hold the
// *Reservation handle AcquireReservation returned. It rebuilds the handle
// by querying the row directly from the store, so it works across process
// restarts and across replicas that never saw the original acquire --
// unlike the handle itself, nothing here depends on in-process state.
func (m *NonFungibleTokenManager) Promote(ctx context.Context, accountID, reservationID, resourceID string, ttlSec int64) error {
	r, err := m.loadReservation(ctx, accountID, reservationID)
	if err != nil {
		return err
	}
	return r.Promote(ctx, resourceID, ttlSec)
}

// Cancel releases accountID's reservationID, rebuilding the handle from the
// store the same way Promote does. A reservationID the store no longer has
// a row for is treated as already released (TTL expiry or a prior cancel
// both end up here) and Cancel returns nil, matching the no-op semantics
// Reservation.Cancel already applies to a promoted or cancelled handle.
func (m *NonFungibleTokenManager) Cancel(ctx context.Context, accountID, reservationID string) error {
	r, err := m.loadReservation(ctx, accountID, reservationID)
	if err != nil {
		if err == ErrReservationNotFound {
			return nil
		}
		return err
	}
	return r.Cancel(ctx)
}

// loadReservation rebuilds a *Reservation handle for (accountID,
// reservationID) straight from the store: the coordinate is computed from
// m.resourceName and accountID (no index lookup needed), then the row is
// fetched by that coordinate and scanned for the matching reservationId,
// since Condition has no equality operator to push the match into the
// query itself. The handle's state is seeded from the row's "promoted"
// marker so a reconstructed handle enforces the same at-most-once
// promote/cancel invariant a same-process handle does.
func (m *NonFungibleTokenManager) loadReservation(ctx context.Context, accountID, reservationID string) (*Reservation, error) {
	coord := m.resourceName + ":" + accountID

	result, err := m.gateway.Query(ctx, store.QueryRequest{
		Table:             m.tableName,
		PartitionKeyName:  "resourceCoordinate",
		PartitionKeyValue: coord,
		ConsistentRead:    true,
	})
	if err != nil {
		switch err {
		case store.ErrThrottled:
			return nil, ErrThrottled
		default:
			return nil, &RateLimiterError{Op: "loadReservation", Err: err}
		}
	}

	for _, row := range result.Items {
		rid, _ := row["reservationId"].(string)
		if rid != reservationID {
			continue
		}
		state := statePending
		if promoted, _ := row["promoted"].(bool); promoted {
			state = statePromoted
		}
		return &Reservation{
			ID:           reservationID,
			ResourceName: m.resourceName,
			AccountID:    accountID,
			coord:        coord,
			tableName:    m.tableName,
			gateway:      m.gateway,
			auditor:      m.auditor,
			state:        state,
		}, nil
	}

	return nil, ErrReservationNotFound
}

// Reservation is a handle owning exactly one non-fungible token row until
// it is promoted or cancelled.
type Reservation struct {
	ID           string
	ResourceName string
	AccountID    string

	coord     string
	tableName string
	gateway   store.Gateway
	auditor   ratelimitaudit.Recorder

	mu    sync.Mutex
	state reservationState
}

// Promote converts the reservation into a long-lived token identified by
// resourceID, extending its TTL to ttlSec from now. It may be called at
// most once; subsequent calls fail with ErrInvalidState.
func (r *Reservation) Promote(ctx context.Context, resourceID string, ttlSec int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != statePending {
		return ErrInvalidState
	}

	_, err := r.gateway.ConditionalUpdate(ctx, store.UpdateRequest{
		Table: r.tableName,
		Key: store.Item{
			"resourceCoordinate": r.coord,
			"reservationId":      r.ID,
		},
		Sets: map[string]any{
			"expirationTime": nowSec() + ttlSec,
			"resourceId":     resourceID,
			"promoted":       true,
		},
		Condition: &store.Condition{
			And: []store.Condition{
				{Exists: "expirationTime"},
				{NotExists: "promoted"},
			},
		},
	})
	switch err {
	case nil:
		r.state = statePromoted
		if r.auditor != nil {
			r.auditor.RecordReservationEvent(ctx, ratelimitaudit.Event{
				Action:        "promote",
				ReservationID: r.ID,
				ResourceName:  r.ResourceName,
				AccountID:     r.AccountID,
				ResourceID:    resourceID,
			})
		}
		return nil
	case store.ErrPreconditionFailed:
		return ErrReservationNotFound
	case store.ErrThrottled:
		return ErrThrottled
	default:
		return &RateLimiterError{Op: "Promote", Err: err}
	}
}

// Cancel releases the reservation. It is a no-op (logged) if the
// reservation has already been promoted or cancelled.
func (r *Reservation) Cancel(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case statePromoted:
		log.Printf("[WARN] ratelimiter: cancel called on already-promoted reservation %s", r.ID)
		return nil
	case stateCancelled:
		log.Printf("[WARN] ratelimiter: cancel called twice on reservation %s", r.ID)
		return nil
	}

	if err := r.gateway.Delete(ctx, r.tableName, store.Item{
		"resourceCoordinate": r.coord,
		"reservationId":      r.ID,
	}); err != nil {
		return &RateLimiterError{Op: "Cancel", Err: err}
	}

	r.state = stateCancelled
	if r.auditor != nil {
		r.auditor.RecordReservationEvent(ctx, ratelimitaudit.Event{
			Action:        "cancel",
			ReservationID: r.ID,
			ResourceName:  r.ResourceName,
			AccountID:     r.AccountID,
		})
	}
	return nil
}
