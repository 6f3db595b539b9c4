package ratelimiter

import "context"

// WithReservation acquires a reservation on mgr for accountID, runs fn with
// it, cancels the reservation if fn returns an error, and otherwise leaves
// it pending so the caller can promote it once the external resource id is
// known. It does not promote on fn's behalf: promotion requires the
// resource id fn obtained, which only the caller has.
func WithReservation(ctx context.Context, mgr *NonFungibleTokenManager, accountID string, fn func(ctx context.Context, r *Reservation) error) error {
	r, err := mgr.AcquireReservation(ctx, accountID)
	if err != nil {
		return err
	}

	if err := fn(ctx, r); err != nil {
		_ = r.Cancel(ctx)
		return err
	}

	return nil
}
