package ratelimitaudit

import (
	"context"
	"log"
	"time"
)

// Adapter implements Recorder against a Logger, writing each event
// asynchronously so auditing never adds latency to a reservation lifecycle
// call -- the same "write audit log, don't block the response" shape
// invalidation.Service uses around its own AuditLogger.
type Adapter struct {
	logger *Logger
}

// NewAdapter wraps logger as a Recorder.
func NewAdapter(logger *Logger) *Adapter {
	return &Adapter{logger: logger}
}

// RecordReservationEvent implements Recorder.
func (a *Adapter) RecordReservationEvent(ctx context.Context, event Event) {
	event.Timestamp = time.Now()
	go func() {
		if err := a.logger.Insert(context.Background(), event); err != nil {
			log.Printf("[WARN] ratelimitaudit: failed to record %s event for reservation %s: %v", event.Action, event.ReservationID, err)
		}
	}()
}
