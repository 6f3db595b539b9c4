// Package ratelimiter implements the distributed rate-limiting core: a
// fungible sliding-window token bucket and a non-fungible counted-reservation
// limiter, both built against a Store Gateway with optimistic, conditional
// writes.
//
// Design Choices:
// - Limit Directory, Fungible Token Manager and Non-Fungible Token Manager
//   are small value types taking narrow interfaces at construction, not a
//   shared base type.
// - All store errors translate to one of the package's tagged error values;
//   callers type-switch instead of inspecting store-level causes.
// - The fungible refill step is best-effort and never rolls back a
//   successful consume.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"encore.app/ratelimitaudit"
	"encore.app/store"
)

// ResourceConfig configures one resource's default quota and limiter
// flavor. Resources with WindowSec > 0 are treated as fungible; others as
// non-fungible.
type ResourceConfig struct {
	DefaultLimit     int64
	DefaultWindowSec int64 // 0 for non-fungible resources
}

// Config holds runtime configuration for the ratelimiter service.
type Config struct {
	Tables    TableNames
	Resources map[string]ResourceConfig
}

// Service wires the Store Gateway, Limit Directory and per-resource
// managers behind the public acquire/reserve/promote/cancel API.
//
//encore:service
type Service struct {
	gateway store.Gateway
	limits  *LimitDirectory
	tables  TableNames

	fungible    map[string]*FungibleTokenManager
	nonFungible map[string]*NonFungibleTokenManager

	auditor ratelimitaudit.Recorder
}

var (
	svc  *Service
	once sync.Once
)

// initService constructs the global Service instance, resolving table
// names from the environment, a DynamoDB gateway from the default AWS
// credential chain, and an audit logger from this service's managed
// Postgres database. Called automatically by Encore at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		var tables TableNames
		tables, err = ResolveTableNames(TableNames{})
		if err != nil {
			return
		}

		var gateway store.Gateway
		gateway, err = store.NewDefaultDynamoGateway(context.Background())
		if err != nil {
			return
		}

		auditLogger, auditErr := ratelimitaudit.NewDefaultLogger()
		if auditErr != nil {
			err = auditErr
			return
		}

		svc = NewService(gateway, tables, defaultResourceConfigs(), ratelimitaudit.NewAdapter(auditLogger))
	})
	return svc, err
}

// NewService constructs a Service. gateway may be nil only in tests that
// replace individual managers directly. auditor may be nil to disable
// reservation lifecycle auditing. Client-side store pacing, if any, is
// baked into gateway itself (see store.NewDynamoGateway) rather than
// configured here.
func NewService(gateway store.Gateway, tables TableNames, resources map[string]ResourceConfig, auditor ratelimitaudit.Recorder) *Service {
	s := &Service{
		gateway:     gateway,
		tables:      tables,
		fungible:    make(map[string]*FungibleTokenManager),
		nonFungible: make(map[string]*NonFungibleTokenManager),
		auditor:     auditor,
	}

	s.limits = NewLimitDirectory(gateway, tables.Limits)

	for name, cfg := range resources {
		if cfg.DefaultWindowSec > 0 {
			s.fungible[name] = NewFungibleTokenManager(gateway, s.limits, tables.FungibleTokens, name, cfg.DefaultLimit, cfg.DefaultWindowSec)
		} else {
			s.nonFungible[name] = NewNonFungibleTokenManager(gateway, s.limits, tables.NonFungibleTokens, tables.NonFungibleIndex, name, cfg.DefaultLimit, auditor)
		}
	}

	return s
}

// defaultResourceConfigs is the out-of-the-box resource set that
// initService passes to NewService; callers constructing a Service with
// NewService supply their own resource map instead.
func defaultResourceConfigs() map[string]ResourceConfig {
	return map[string]ResourceConfig{
		"emr-cluster-launch": {DefaultLimit: 5, DefaultWindowSec: 0},
		"batch-job-submit":   {DefaultLimit: 100, DefaultWindowSec: 60},
	}
}

// AcquireRequest names the resource and account an acquire/reserve call
// targets.
type AcquireRequest struct {
	ResourceName string `json:"resourceName"`
	AccountID    string `json:"accountId"`
}

// AcquireResponse is returned by a successful fungible acquire.
type AcquireResponse struct {
	Admitted bool `json:"admitted"`
}

// FungibleAcquire admits one unit of work for (resourceName, accountId)
// against a fungible token bucket.
//
//encore:api public method=POST path=/limiter/fungible/acquire
func FungibleAcquire(ctx context.Context, req *AcquireRequest) (*AcquireResponse, error) {
	if svc == nil {
		return nil, errors.New("ratelimiter: service not initialized")
	}
	return svc.FungibleAcquire(ctx, req)
}

func (s *Service) FungibleAcquire(ctx context.Context, req *AcquireRequest) (*AcquireResponse, error) {
	mgr, ok := s.fungible[req.ResourceName]
	if !ok {
		return nil, fmt.Errorf("ratelimiter: unknown fungible resource %q", req.ResourceName)
	}
	if err := mgr.Acquire(ctx, req.AccountID); err != nil {
		return nil, err
	}
	return &AcquireResponse{Admitted: true}, nil
}

// ReservationResponse identifies a newly created reservation.
type ReservationResponse struct {
	ReservationID string `json:"reservationId"`
}

// ReservationAcquire reserves one slot for (resourceName, accountId)
// against a non-fungible limiter.
//
//encore:api public method=POST path=/limiter/reservation/acquire
func ReservationAcquire(ctx context.Context, req *AcquireRequest) (*ReservationResponse, error) {
	if svc == nil {
		return nil, errors.New("ratelimiter: service not initialized")
	}
	return svc.ReservationAcquire(ctx, req)
}

func (s *Service) ReservationAcquire(ctx context.Context, req *AcquireRequest) (*ReservationResponse, error) {
	mgr, ok := s.nonFungible[req.ResourceName]
	if !ok {
		return nil, fmt.Errorf("ratelimiter: unknown non-fungible resource %q", req.ResourceName)
	}

	r, err := mgr.AcquireReservation(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	return &ReservationResponse{ReservationID: r.ID}, nil
}

// PromoteRequest names the reservation to promote and the external
// resource id it now represents. ResourceName and AccountID identify the
// non-fungible resource and owning account the reservation was acquired
// against, the same pair AcquireRequest carries -- they let the service
// rebuild the reservation's store coordinate on any replica, rather than
// requiring the call to land back on whichever instance handled the
// original acquire.
type PromoteRequest struct {
	ReservationID string `json:"reservationId"`
	ResourceName  string `json:"resourceName"`
	AccountID     string `json:"accountId"`
	ResourceID    string `json:"resourceId"`
	TTLSec        int64  `json:"ttlSec"` // 0 means DefaultTokenTTLSec
}

// PromoteResponse reports success of a promote call.
type PromoteResponse struct {
	Promoted bool `json:"promoted"`
}

// ReservationPromote converts a pending reservation into a long-lived
// token.
//
//encore:api public method=POST path=/limiter/reservation/promote
func ReservationPromote(ctx context.Context, req *PromoteRequest) (*PromoteResponse, error) {
	if svc == nil {
		return nil, errors.New("ratelimiter: service not initialized")
	}
	return svc.ReservationPromote(ctx, req)
}

func (s *Service) ReservationPromote(ctx context.Context, req *PromoteRequest) (*PromoteResponse, error) {
	mgr, ok := s.nonFungible[req.ResourceName]
	if !ok {
		return nil, fmt.Errorf("ratelimiter: unknown non-fungible resource %q", req.ResourceName)
	}

	ttl := req.TTLSec
	if ttl <= 0 {
		ttl = DefaultTokenTTLSec
	}

	if err := mgr.Promote(ctx, req.AccountID, req.ReservationID, req.ResourceID, ttl); err != nil {
		return nil, err
	}
	return &PromoteResponse{Promoted: true}, nil
}

// CancelRequest names the reservation to cancel. ResourceName and
// AccountID play the same role they play in PromoteRequest: they let the
// service rebuild the reservation's store coordinate without having kept
// any in-process record of the original acquire.
type CancelRequest struct {
	ReservationID string `json:"reservationId"`
	ResourceName  string `json:"resourceName"`
	AccountID     string `json:"accountId"`
}

// CancelResponse reports success of a cancel call.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ReservationCancel releases a reservation.
//
//encore:api public method=POST path=/limiter/reservation/cancel
func ReservationCancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	if svc == nil {
		return nil, errors.New("ratelimiter: service not initialized")
	}
	return svc.ReservationCancel(ctx, req)
}

func (s *Service) ReservationCancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	mgr, ok := s.nonFungible[req.ResourceName]
	if !ok {
		return nil, fmt.Errorf("ratelimiter: unknown non-fungible resource %q", req.ResourceName)
	}
	if err := mgr.Cancel(ctx, req.AccountID, req.ReservationID); err != nil {
		return nil, err
	}
	return &CancelResponse{Cancelled: true}, nil
}

// eventprocessor releases non-fungible tokens directly against its own
// store.Gateway and TokenStore rather than through Service -- the event
// pipeline never holds a Reservation handle, so there is nothing here for
// it to borrow.
