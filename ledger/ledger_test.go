package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/dmarcauth/jwt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *recordingAlerter) TheftDetected(_ context.Context, alert Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func (a *recordingAlerter) last() Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alerts[len(a.alerts)-1]
}

type harness struct {
	ledger  *Ledger
	store   Store
	mem     *MemoryStore
	tokens  *jwt.Manager
	clock   *testClock
	alerter *recordingAlerter
}

var subjects = SubjectLoaderFunc(func(_ context.Context, userID string) (jwt.Subject, error) {
	return jwt.Subject{UserID: userID, Role: "viewer", Provider: "local"}, nil
})

func newHarness(t *testing.T, policy TheftPolicy, wrap func(*MemoryStore) Store) *harness {
	t.Helper()
	clock := &testClock{now: time.Now()}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "dmarcauth",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	mem := NewMemoryStore()
	var store Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	alerter := &recordingAlerter{}
	theft := NewTheftResponder(store, policy, alerter, nil, clock.Now)
	return &harness{
		ledger:  New(store, tokens, subjects, Options{Theft: theft, Now: clock.Now}),
		store:   store,
		mem:     mem,
		tokens:  tokens,
		clock:   clock,
		alerter: alerter,
	}
}

var fullPolicy = TheftPolicy{Enabled: true, InvalidateFamily: true}

func (h *harness) row(t *testing.T, id string) *RefreshToken {
	t.Helper()
	r, err := h.mem.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return r
}

func TestRotationChainThenReplayOfFirstTokenSeversFamily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)

	first, err := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if h.row(t, first.TokenID).TokenHash == first.RefreshToken {
		t.Fatal("raw refresh token must not be stored")
	}

	second, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	third, err := h.ledger.Rotate(ctx, second.RefreshToken, second.AccessToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}

	if second.FamilyID != first.FamilyID || third.FamilyID != first.FamilyID {
		t.Fatal("rotation must keep the family id")
	}
	for _, id := range []string{first.TokenID, second.TokenID} {
		r := h.row(t, id)
		if !r.Revoked || r.RevokedReason != ReasonRotation {
			t.Fatalf("token %s: expected revoked by rotation, got %+v", id, r)
		}
	}

	_, err = h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "203.0.113.9")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised, got %v", err)
	}
	latest := h.row(t, third.TokenID)
	if !latest.Revoked || latest.RevokedReason != ReasonTheftDetected {
		t.Fatalf("latest token must be revoked for theft, got %+v", latest)
	}

	if h.alerter.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", h.alerter.count())
	}
	alert := h.alerter.last()
	if alert.OriginalReason != ReasonRotation || alert.ClientIP != "203.0.113.9" || alert.FamilyRevoked != 1 {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.UserID != "u1" || alert.FamilyID != first.FamilyID || alert.TokenID != first.TokenID {
		t.Fatalf("alert identifies the wrong token %+v", alert)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, TheftPolicy{Enabled: true}, nil)
	pair, err := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const workers = 16
	var wins, compromised atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.ledger.Rotate(ctx, pair.RefreshToken, pair.AccessToken, "10.0.0.1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSessionCompromised):
				compromised.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || compromised.Load() != workers-1 {
		t.Fatalf("expected 1 winner and %d compromised, got %d and %d", workers-1, wins.Load(), compromised.Load())
	}

	rows, _ := h.ledger.Family(ctx, pair.FamilyID)
	live := 0
	for _, r := range rows {
		if !r.Revoked {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live token in family, got %d", live)
	}
}

func TestConcurrentRotationWithFamilyInvalidation(t *testing.T) {
	for run := 0; run < 20; run++ {
		ctx := context.Background()
		h := newHarness(t, fullPolicy, nil)
		pair, err := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		const workers = 16
		var (
			wins, compromised atomic.Int32
			winner            Pair
			mu                sync.Mutex
			wg                sync.WaitGroup
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				next, err := h.ledger.Rotate(ctx, pair.RefreshToken, pair.AccessToken, "")
				switch {
				case err == nil:
					wins.Add(1)
					mu.Lock()
					winner = next
					mu.Unlock()
				case errors.Is(err, ErrSessionCompromised):
					compromised.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 || compromised.Load() != workers-1 {
			t.Fatalf("run %d: expected 1 winner and %d compromised, got %d and %d",
				run, workers-1, wins.Load(), compromised.Load())
		}

		rows, _ := h.ledger.Family(ctx, pair.FamilyID)
		for _, r := range rows {
			if !r.Revoked {
				t.Fatalf("run %d: raced family must be fully revoked, %s is live", run, r.ID)
			}
		}
		if got := h.row(t, winner.TokenID).RevokedReason; got != ReasonTheftDetected {
			t.Fatalf("run %d: winner's token reason=%q", run, got)
		}

		_, err = h.ledger.Rotate(ctx, winner.RefreshToken, winner.AccessToken, "")
		if !errors.Is(err, ErrSessionCompromised) {
			t.Fatalf("run %d: winner's pair must be rejected, got %v", run, err)
		}
	}
}

// raceStore revokes the row on behalf of a phantom concurrent request
// right before the conditional write runs.
type raceStore struct {
	*MemoryStore
}

func (s raceStore) RevokeIfActive(ctx context.Context, id string, reason RevocationReason, at time.Time) (bool, error) {
	_, _ = s.MemoryStore.RevokeIfActive(ctx, id, ReasonLogout, at)
	return s.MemoryStore.RevokeIfActive(ctx, id, reason, at)
}

func TestLostConditionalWriteIsTheft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, func(m *MemoryStore) Store { return raceStore{m} })
	pair, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})

	_, err := h.ledger.Rotate(ctx, pair.RefreshToken, pair.AccessToken, "10.0.0.7")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised, got %v", err)
	}
	if h.alerter.count() != 1 {
		t.Fatalf("expected theft alert, got %d", h.alerter.count())
	}
	if got := h.alerter.last().OriginalReason; got != ReasonLogout {
		t.Fatalf("alert must carry the reloaded reason, got %q", got)
	}
}

func TestExpiredTokenNeverTriggersTheft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	second, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	_, err = h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	_, err = h.ledger.Rotate(ctx, second.RefreshToken, second.AccessToken, "")
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if h.alerter.count() != 0 {
		t.Fatalf("expiry must not alert, got %d", h.alerter.count())
	}
	if h.row(t, second.TokenID).Revoked {
		t.Fatal("expiry must not revoke siblings")
	}
}

func TestRowExpiryCheckedBeforeRevocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	second, _ := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")

	// Shorten the stored row so the JWT itself is still valid.
	h.mem.mu.Lock()
	r := h.mem.rows[first.TokenID]
	r.ExpiresAt = h.clock.Now().Add(-time.Second)
	h.mem.rows[first.TokenID] = r
	h.mem.mu.Unlock()

	_, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if h.alerter.count() != 0 || h.row(t, second.TokenID).Revoked {
		t.Fatal("expired revoked row must not trigger theft response")
	}
}

func TestTokenPairMixingRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	alice, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "alice"})
	bob, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "bob"})

	_, err := h.ledger.Rotate(ctx, alice.RefreshToken, bob.AccessToken, "")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if h.row(t, alice.TokenID).Revoked {
		t.Fatal("mixed pair must not revoke anything")
	}
}

func TestHashMismatchIsInvalidNotTheft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	pair, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})

	h.clock.Advance(2 * time.Second)
	forged, _, err := h.tokens.CreateRefresh("u1", pair.TokenID)
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	_, err = h.ledger.Rotate(ctx, forged, pair.AccessToken, "")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if h.alerter.count() != 0 {
		t.Fatal("unknown token must not alert")
	}

	for _, bad := range []string{"", "not-a-jwt", pair.AccessToken} {
		if _, err := h.ledger.Rotate(ctx, bad, pair.AccessToken, ""); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("refresh %q: expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestTheftDetectionDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, TheftPolicy{Enabled: false, InvalidateFamily: true}, nil)
	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	second, _ := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")

	_, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("reuse must still be rejected, got %v", err)
	}
	if h.alerter.count() != 0 || h.row(t, second.TokenID).Revoked {
		t.Fatal("disabled detection must not alert or revoke")
	}
}

func TestTheftWithoutFamilyInvalidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, TheftPolicy{Enabled: true}, nil)
	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	second, _ := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")

	_, _ = h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if h.alerter.count() != 1 {
		t.Fatalf("expected alert, got %d", h.alerter.count())
	}
	if h.row(t, second.TokenID).Revoked {
		t.Fatal("family must survive when invalidation is off")
	}
}

func TestTheftResponderLogsOnlyAtDebug(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h.ledger.theft = NewTheftResponder(h.store, fullPolicy, h.alerter, logger, h.clock.Now)

	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	if _, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, ""); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, ""); !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised, got %v", err)
	}

	if h.alerter.count() != 1 || h.alerter.last().FamilyRevoked != 1 {
		t.Fatalf("alert must carry the outcome, got %d alerts", h.alerter.count())
	}
	if buf.Len() != 0 {
		t.Fatalf("request path logged above debug: %s", buf.String())
	}
}

type failingFamilyStore struct {
	*MemoryStore
}

func (failingFamilyStore) RevokeFamily(context.Context, string, RevocationReason, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestFamilyRevokeFailureStillRejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, func(m *MemoryStore) Store { return failingFamilyStore{m} })
	first, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	_, _ = h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")

	_, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised, got %v", err)
	}
	if !h.alerter.last().RevokeFailed {
		t.Fatal("alert must record the failed revocation")
	}
}

func TestFamilyRevokeDetachedFromRequestCancel(t *testing.T) {
	h := newHarness(t, fullPolicy, nil)
	first, _ := h.ledger.Issue(context.Background(), jwt.Subject{UserID: "u1"})
	second, _ := h.ledger.Rotate(context.Background(), first.RefreshToken, first.AccessToken, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ledger.Rotate(ctx, first.RefreshToken, first.AccessToken, "")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("expected ErrSessionCompromised, got %v", err)
	}
	if !h.row(t, second.TokenID).Revoked {
		t.Fatal("family revocation must run even when the request is cancelled")
	}
}

func TestLogoutIsIdempotentAndOwnerScoped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	pair, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})

	h.ledger.Logout(ctx, "someone-else", pair.RefreshToken)
	if h.row(t, pair.TokenID).Revoked {
		t.Fatal("logout by another user must not revoke")
	}

	h.ledger.Logout(ctx, "u1", pair.RefreshToken)
	r := h.row(t, pair.TokenID)
	if !r.Revoked || r.RevokedReason != ReasonLogout {
		t.Fatalf("expected logout revocation, got %+v", r)
	}

	h.ledger.Logout(ctx, "u1", pair.RefreshToken)
	h.ledger.Logout(ctx, "u1", "garbage")
	if h.row(t, pair.TokenID).RevokedReason != ReasonLogout {
		t.Fatal("second logout must not change the reason")
	}
}

func TestRevokeAllForUserSpansFamilies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fullPolicy, nil)
	a, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	b, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u1"})
	other, _ := h.ledger.Issue(ctx, jwt.Subject{UserID: "u2"})

	n, err := h.ledger.RevokeAllForUser(ctx, "u1", ReasonPasswordChange)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked, got %d err=%v", n, err)
	}
	for _, id := range []string{a.TokenID, b.TokenID} {
		if r := h.row(t, id); r.RevokedReason != ReasonPasswordChange {
			t.Fatalf("token %s: unexpected %+v", id, r)
		}
	}
	if h.row(t, other.TokenID).Revoked {
		t.Fatal("other users must be untouched")
	}

	_, err = h.ledger.Rotate(ctx, a.RefreshToken, a.AccessToken, "")
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("reuse after password change must be compromised, got %v", err)
	}
}
