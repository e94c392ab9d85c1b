package limiters

import "context"

// CheckLogin checks the IP dimension first, then the account dimension.
func (g *Guard) CheckLogin(ctx context.Context, ip, email string) error {
	if g == nil {
		return nil
	}
	if err := g.loginIP.Check(ctx, ip); err != nil {
		return err
	}
	return g.loginAccount.Check(ctx, email)
}

// RecordLoginFailure counts a failed login against both dimensions.
func (g *Guard) RecordLoginFailure(ctx context.Context, ip, email string) error {
	if g == nil {
		return nil
	}
	if err := g.loginIP.RecordFailure(ctx, ip); err != nil {
		return err
	}
	return g.loginAccount.RecordFailure(ctx, email)
}

// LoginSucceeded clears the account dimension only.
func (g *Guard) LoginSucceeded(ctx context.Context, email string) error {
	if g == nil {
		return nil
	}
	return g.loginAccount.Reset(ctx, email)
}
