package ratelimiter

import (
	"context"
	"testing"

	"encore.app/store"
)

func newServiceTestGateway() *store.MemoryGateway {
	return store.NewMemoryGateway(map[string]store.KeySchema{
		"fungible-tokens":     {PartitionKey: "resourceName", SortKey: "accountId"},
		"non-fungible-tokens": {PartitionKey: "resourceCoordinate", SortKey: "reservationId"},
		"limits":              {PartitionKey: "resourceName", SortKey: "accountId"},
	})
}

func newTestService() *Service {
	gw := newServiceTestGateway()
	resources := map[string]ResourceConfig{
		"batch-job-submit":   {DefaultLimit: 2, DefaultWindowSec: 60},
		"emr-cluster-launch": {DefaultLimit: 2, DefaultWindowSec: 0},
	}
	return NewService(gw, TableNames{
		FungibleTokens:    "fungible-tokens",
		NonFungibleTokens: "non-fungible-tokens",
		NonFungibleIndex:  "resource-index",
		Limits:            "limits",
	}, resources, nil)
}

func TestService_FungibleAcquireViaFacade(t *testing.T) {
	s := newTestService()
	resp, err := s.FungibleAcquire(context.Background(), &AcquireRequest{ResourceName: "batch-job-submit", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Admitted {
		t.Fatal("expected admitted=true")
	}
}

func TestService_FungibleAcquireUnknownResource(t *testing.T) {
	s := newTestService()
	_, err := s.FungibleAcquire(context.Background(), &AcquireRequest{ResourceName: "nope", AccountID: "acct-1"})
	if err == nil {
		t.Fatal("expected error for unknown resource")
	}
}

func TestService_ReservationLifecycle(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	acquireResp, err := s.ReservationAcquire(ctx, &AcquireRequest{ResourceName: "emr-cluster-launch", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acquireResp.ReservationID == "" {
		t.Fatal("expected non-empty reservation id")
	}

	promoteResp, err := s.ReservationPromote(ctx, &PromoteRequest{
		ReservationID: acquireResp.ReservationID,
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
		ResourceID:    "j-123",
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !promoteResp.Promoted {
		t.Fatal("expected promoted=true")
	}

	// Cancel after promote is a no-op, not an error.
	cancelResp, err := s.ReservationCancel(ctx, &CancelRequest{
		ReservationID: acquireResp.ReservationID,
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
	})
	if err != nil {
		t.Fatalf("cancel after promote: %v", err)
	}
	if !cancelResp.Cancelled {
		t.Fatal("expected cancelled=true even as a no-op")
	}
}

// TestService_PromoteCancelWithoutLocalHandle rebuilds a reservation purely
// from the wire-level (resourceName, accountId, reservationId) triple, the
// way a replica that never saw the original acquire would have to -- it
// never touches the ReservationResponse-returning call's in-process result
// beyond the id string.
func TestService_PromoteCancelWithoutLocalHandle(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	acquireResp, err := s.ReservationAcquire(ctx, &AcquireRequest{ResourceName: "emr-cluster-launch", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A fresh Service sharing the same gateway stands in for a second
	// replica that has no record of the acquire above.
	other := NewService(s.gateway, s.tables, map[string]ResourceConfig{
		"emr-cluster-launch": {DefaultLimit: 2, DefaultWindowSec: 0},
	}, nil)

	if _, err := other.ReservationPromote(ctx, &PromoteRequest{
		ReservationID: acquireResp.ReservationID,
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
		ResourceID:    "j-456",
	}); err != nil {
		t.Fatalf("promote from other replica: %v", err)
	}

	if _, err := other.ReservationCancel(ctx, &CancelRequest{
		ReservationID: acquireResp.ReservationID,
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
	}); err != nil {
		t.Fatalf("cancel after promote from other replica: %v", err)
	}
}

func TestService_CancelUnknownReservation(t *testing.T) {
	s := newTestService()
	resp, err := s.ReservationCancel(context.Background(), &CancelRequest{
		ReservationID: "does-not-exist",
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
	})
	if err != nil {
		t.Fatalf("expected cancel of an unknown reservation to be a no-op, got %v", err)
	}
	if !resp.Cancelled {
		t.Fatal("expected cancelled=true even as a no-op")
	}
}

func TestService_PromoteUnknownReservation(t *testing.T) {
	s := newTestService()
	_, err := s.ReservationPromote(context.Background(), &PromoteRequest{
		ReservationID: "does-not-exist",
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
		ResourceID:    "j-123",
	})
	if err != ErrReservationNotFound {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestService_AdmissionBoundaryAcrossFacade(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		resp, err := s.ReservationAcquire(ctx, &AcquireRequest{ResourceName: "emr-cluster-launch", AccountID: "acct-1"})
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		ids = append(ids, resp.ReservationID)
	}

	if _, err := s.ReservationAcquire(ctx, &AcquireRequest{ResourceName: "emr-cluster-launch", AccountID: "acct-1"}); err != ErrCapacityExhausted {
		t.Fatalf("expected ErrCapacityExhausted at the limit boundary, got %v", err)
	}

	if _, err := s.ReservationCancel(ctx, &CancelRequest{
		ReservationID: ids[0],
		ResourceName:  "emr-cluster-launch",
		AccountID:     "acct-1",
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := s.ReservationAcquire(ctx, &AcquireRequest{ResourceName: "emr-cluster-launch", AccountID: "acct-1"}); err != nil {
		t.Fatalf("expected a freed slot to admit a new reservation, got %v", err)
	}
}
