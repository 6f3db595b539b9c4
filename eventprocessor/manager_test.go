package eventprocessor

import (
	"context"
	"sync"
	"testing"

	"encore.app/ratelimitaudit"
)

type fakeTokenStore struct {
	mu       sync.Mutex
	rows     map[string]struct{ coord, reservationID string } // keyed by resourceId
	deleted  []string                                          // reservationIDs
	lookupErr error
	deleteErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: make(map[string]struct{ coord, reservationID string })}
}

func (f *fakeTokenStore) put(resourceID, coord, reservationID string) {
	f.rows[resourceID] = struct{ coord, reservationID string }{coord, reservationID}
}

func (f *fakeTokenStore) FindByResourceID(ctx context.Context, resourceID string) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", "", false, f.lookupErr
	}
	row, ok := f.rows[resourceID]
	if !ok {
		return "", "", false, nil
	}
	return row.coord, row.reservationID, true, nil
}

func (f *fakeTokenStore) DeleteReservation(ctx context.Context, coord, reservationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, reservationID)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []ratelimitaudit.Event
}

func (f *fakeRecorder) RecordReservationEvent(ctx context.Context, e ratelimitaudit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func emrEvent(clusterID, state string) map[string]any {
	return map[string]any{
		"source":      "aws.emr",
		"detail-type": "EMR Cluster State Change",
		"detail": map[string]any{
			"clusterId": clusterID,
			"state":     state,
		},
	}
}

func newTestManager(tokens TokenStore, auditor ratelimitaudit.Recorder) *Manager {
	m := NewManager(tokens, 10, auditor)
	RegisterSeedProcessors(m)
	return m
}

func TestManager_DeletesTokenOnMatchingTermination(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.put("j-123", "emr-cluster-launch:acct-1", "rid-1")
	auditor := &fakeRecorder{}
	m := newTestManager(tokens, auditor)

	if err := m.Process(context.Background(), emrEvent("j-123", "TERMINATED")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tokens.deleted) != 1 || tokens.deleted[0] != "rid-1" {
		t.Fatalf("expected reservation rid-1 to be deleted, got %v", tokens.deleted)
	}
	if len(auditor.events) != 1 || auditor.events[0].Action != "event_delete" {
		t.Fatalf("expected one event_delete audit event, got %v", auditor.events)
	}
}

func TestManager_NonMatchingStateIsIgnored(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.put("j-123", "emr-cluster-launch:acct-1", "rid-1")
	m := newTestManager(tokens, nil)

	if err := m.Process(context.Background(), emrEvent("j-123", "RUNNING")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens.deleted) != 0 {
		t.Fatalf("expected no delete, got %v", tokens.deleted)
	}
}

func TestManager_RedeliveredEventIsIdempotent(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.put("j-123", "emr-cluster-launch:acct-1", "rid-1")
	m := newTestManager(tokens, nil)

	event := emrEvent("j-123", "TERMINATED")
	if err := m.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error on first delivery: %v", err)
	}
	if err := m.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if len(tokens.deleted) != 1 {
		t.Fatalf("expected exactly one delete across redeliveries, got %d", len(tokens.deleted))
	}
}

func TestManager_UnknownSourceIsRejected(t *testing.T) {
	m := newTestManager(newFakeTokenStore(), nil)
	event := map[string]any{"source": "aws.unknown", "detail-type": "", "detail": map[string]any{}}
	if err := m.Process(context.Background(), event); err != ErrUnknownSource {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestManager_MissingSourceIsInvalid(t *testing.T) {
	m := newTestManager(newFakeTokenStore(), nil)
	if err := m.Process(context.Background(), map[string]any{}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestManager_BatchJobRoutesByDetailType(t *testing.T) {
	tokens := newFakeTokenStore()
	tokens.put("job-9", "batch-job-submit:acct-2", "rid-9")
	m := newTestManager(tokens, nil)

	event := map[string]any{
		"source":      "aws.batch",
		"detail-type": "Batch Job State Change",
		"detail": map[string]any{
			"jobId":  "job-9",
			"status": "FAILED",
		},
	}
	if err := m.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens.deleted) != 1 || tokens.deleted[0] != "rid-9" {
		t.Fatalf("expected rid-9 to be deleted, got %v", tokens.deleted)
	}
}

func TestManager_NoMatchingTokenRowIsNotAnError(t *testing.T) {
	tokens := newFakeTokenStore() // no rows seeded
	m := newTestManager(tokens, nil)

	if err := m.Process(context.Background(), emrEvent("ghost-cluster", "TERMINATED")); err != nil {
		t.Fatalf("expected no error for unmatched resourceId, got %v", err)
	}
	if len(tokens.deleted) != 0 {
		t.Fatal("expected no delete for unmatched resourceId")
	}
}
