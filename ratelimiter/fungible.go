package ratelimiter

import (
	"context"
	"log"

	"encore.app/store"
)

// FungibleTokenManager is the sliding-window token-bucket state machine for
// one resource. Each acquire performs an atomic consume against the bucket
// row, then a best-effort refill; a failed or stale refill never rolls back
// a successful consume.
type FungibleTokenManager struct {
	gateway   store.Gateway
	limits    *LimitDirectory
	tableName string

	resourceName     string
	defaultLimit     int64
	defaultWindowSec int64
}

// NewFungibleTokenManager constructs a manager for resourceName against the
// fungible-tokens table, falling back to defaultLimit/defaultWindowSec when
// the limit directory has no explicit row.
func NewFungibleTokenManager(gateway store.Gateway, limits *LimitDirectory, tableName, resourceName string, defaultLimit, defaultWindowSec int64) *FungibleTokenManager {
	return &FungibleTokenManager{
		gateway:          gateway,
		limits:           limits,
		tableName:        tableName,
		resourceName:     resourceName,
		defaultLimit:     defaultLimit,
		defaultWindowSec: defaultWindowSec,
	}
}

// Acquire admits one unit of work for accountID, or fails with
// ErrCapacityExhausted if the bucket has no token available right now.
func (m *FungibleTokenManager) Acquire(ctx context.Context, accountID string) error {
	limit, err := m.limits.GetLimit(ctx, m.resourceName, accountID, m.defaultLimit, m.defaultWindowSec)
	if err != nil {
		return err
	}

	windowMs := limit.WindowSec * 1000
	msPerToken := windowMs / limit.Limit
	if msPerToken < 1 {
		msPerToken = 1
	}
	tokensPerMs := float64(limit.Limit) / float64(windowMs)

	t := nowMs()

	image, err := m.consume(ctx, accountID, t, msPerToken)
	if err != nil {
		return err
	}

	currentTokens := asInt(image["tokens"], 0)
	lastRefill := asInt(image["lastRefill"], 0)

	refillTokens := computeRefillTokens(limit.Limit, tokensPerMs, currentTokens, lastRefill, t)

	m.refill(ctx, accountID, t, refillTokens)

	return nil
}

func (m *FungibleTokenManager) consume(ctx context.Context, accountID string, t, msPerToken int64) (store.Item, error) {
	image, err := m.gateway.ConditionalUpdate(ctx, store.UpdateRequest{
		Table: m.tableName,
		Key: store.Item{
			"resourceName": m.resourceName,
			"accountId":    accountID,
		},
		Adds: map[string]float64{"tokens": -1},
		Sets: map[string]any{"lastToken": t},
		Condition: &store.Condition{
			Or: []store.Condition{
				{GreaterThan: "tokens", GreaterThanValue: 0},
				{LessThan: "lastToken", LessThanValue: float64(t - msPerToken)},
				{NotExists: "tokens"},
			},
		},
	})
	switch err {
	case nil:
		return image, nil
	case store.ErrPreconditionFailed:
		return nil, ErrCapacityExhausted
	case store.ErrThrottled:
		return nil, ErrThrottled
	default:
		return nil, &RateLimiterError{Op: "consume", Err: err}
	}
}

// computeRefillTokens implements spec's refill formula:
// min(limit-1, max(0, current) + floor(tokensPerMs * (t - lastRefill))).
func computeRefillTokens(limit int64, tokensPerMs float64, current, lastRefill, t int64) int64 {
	refill := current
	if refill < 0 {
		refill = 0
	}
	refill += int64(tokensPerMs * float64(t-lastRefill))
	if refill > limit-1 {
		refill = limit - 1
	}
	return refill
}

// refill is best-effort: PreconditionFailed means a newer refill already
// landed, any other error means the next acquirer will retry it. Either
// way the consume above has already counted and must not be undone.
func (m *FungibleTokenManager) refill(ctx context.Context, accountID string, t, refillTokens int64) {
	_, err := m.gateway.ConditionalUpdate(ctx, store.UpdateRequest{
		Table: m.tableName,
		Key: store.Item{
			"resourceName": m.resourceName,
			"accountId":    accountID,
		},
		Sets: map[string]any{
			"tokens":     refillTokens,
			"lastRefill": t,
		},
		Condition: &store.Condition{
			Or: []store.Condition{
				{LessThan: "lastRefill", LessThanValue: float64(t)},
				{NotExists: "lastRefill"},
			},
		},
	})
	switch err {
	case nil:
		return
	case store.ErrPreconditionFailed:
		log.Printf("[WARN] ratelimiter: refill precondition failed for %s/%s, newer refill already applied", m.resourceName, accountID)
	default:
		log.Printf("[WARN] ratelimiter: refill failed for %s/%s: %v", m.resourceName, accountID, err)
	}
}
