package limiters

import "context"

func (g *Guard) CheckRecovery(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.recoveryVerify.Check(ctx, userID)
}

func (g *Guard) RecordRecoveryFailure(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.recoveryVerify.RecordFailure(ctx, userID)
}

func (g *Guard) ResetRecovery(ctx context.Context, userID string) error {
	if g == nil {
		return nil
	}
	return g.recoveryVerify.Reset(ctx, userID)
}
