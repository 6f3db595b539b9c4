package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"encore.app/store"
)

// Limit is the resolved (limit, window) pair for one (resource, account).
type Limit struct {
	Limit     int64
	WindowSec int64
}

// LimitDirectory resolves per-(resource, account) quotas from the limits
// table, falling back to caller-supplied defaults when no row exists.
// Concurrent lookups for the same key are coalesced with a singleflight
// group, the same role warming.Service's deduper plays against origin
// fetches -- here against the limit-table query.
type LimitDirectory struct {
	gateway   store.Gateway
	tableName string

	group singleflight.Group
}

// NewLimitDirectory constructs a LimitDirectory backed by gateway against
// tableName (the resolved "limits" table).
func NewLimitDirectory(gateway store.Gateway, tableName string) *LimitDirectory {
	return &LimitDirectory{gateway: gateway, tableName: tableName}
}

// GetLimit resolves (resource, account) to a Limit. defaultLimit and
// defaultWindowSec are used when no row exists for the key. Returns
// ErrCapacityExhausted if the resolved limit is <= 0 (blacklisted).
func (d *LimitDirectory) GetLimit(ctx context.Context, resource, account string, defaultLimit, defaultWindowSec int64) (Limit, error) {
	key := resource + "\x00" + account

	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.lookup(ctx, resource, account, defaultLimit, defaultWindowSec)
	})
	if err != nil {
		return Limit{}, err
	}
	limit := v.(Limit)

	if limit.Limit <= 0 {
		return Limit{}, ErrCapacityExhausted
	}
	return limit, nil
}

func (d *LimitDirectory) lookup(ctx context.Context, resource, account string, defaultLimit, defaultWindowSec int64) (Limit, error) {
	result, err := d.gateway.Query(ctx, store.QueryRequest{
		Table:             d.tableName,
		PartitionKeyName:  "resourceName",
		PartitionKeyValue: resource,
		ConsistentRead:    true,
	})
	if err != nil {
		switch err {
		case store.ErrThrottled:
			return Limit{}, ErrThrottled
		default:
			return Limit{}, &RateLimiterError{Op: "GetLimit", Err: err}
		}
	}

	for _, row := range result.Items {
		if fmt.Sprintf("%v", row["accountId"]) != account {
			continue
		}
		return Limit{
			Limit:     asInt(row["limit"], defaultLimit),
			WindowSec: asInt(row["windowSec"], defaultWindowSec),
		}, nil
	}

	return Limit{Limit: defaultLimit, WindowSec: defaultWindowSec}, nil
}

func asInt(v any, fallback int64) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return fallback
	}
}
