package limiters

import "context"

func (g *Guard) CheckTOTP(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.totpVerify.Check(ctx, userID)
}

func (g *Guard) RecordTOTPFailure(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.totpVerify.RecordFailure(ctx, userID)
}

func (g *Guard) ResetTOTP(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.totpVerify.Reset(ctx, userID)
}

// AllowTOTPSetup checks and then counts one setup start. Every start
// counts, successful or not.
func (g *Guard) AllowTOTPSetup(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	if err := g.totpSetup.Check(ctx, userID); err != nil {
		return err
	}
	return g.totpSetup.RecordFailure(ctx, userID)
}
