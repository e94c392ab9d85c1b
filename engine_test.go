package dmarcauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/dmarcauth/ledger"
	"github.com/MrEthical07/dmarcauth/recovery"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = PasswordConfig{
		MinLength:   8,
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.TOTP.EncryptionSecret = "test-server-secret"
	cfg.RecoveryCodes.BcryptCost = 4
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true}
	return cfg
}

type testEnv struct {
	engine *Engine
	users  *MemoryUserStore
	tokens *ledger.MemoryStore
	clock  *testClock
	events <-chan AuditEvent
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env := &testEnv{
		users:  NewMemoryUserStore(),
		tokens: ledger.NewMemoryStore(),
		clock:  newTestClock(),
	}
	sink, events := NewChannelAuditSink(256)
	env.events = events

	engine, err := New().
		WithConfig(cfg).
		WithUserStore(env.users).
		WithTokenStore(env.tokens).
		WithRecoveryStore(recovery.NewMemoryStore()).
		WithAuditSink(sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) addUser(t *testing.T, email string) User {
	t.Helper()
	hash, err := env.engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return env.users.Put(User{Email: email, PasswordHash: hash, Role: "analyst", OrgID: "org-1"})
}

func (env *testEnv) login(t *testing.T, email string) Tokens {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TOTPRequired {
		t.Fatal("unexpected TOTP challenge")
	}
	return res.Tokens
}

func TestEndToEndRotationThenReplaySeversFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice@example.com")
	ctx := WithClientIP(context.Background(), "198.51.100.7")

	first := env.login(t, "alice@example.com")

	env.clock.Advance(time.Minute)
	second, err := env.engine.Refresh(ctx, first.RefreshToken, first.AccessToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	env.clock.Advance(time.Minute)
	third, err := env.engine.Refresh(ctx, second.RefreshToken, second.AccessToken)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if second.FamilyID != first.FamilyID || third.FamilyID != first.FamilyID {
		t.Fatal("rotation must stay in the login family")
	}

	_, err = env.engine.Refresh(ctx, first.RefreshToken, first.AccessToken)
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("replay of first token: got %v, want ErrSessionCompromised", err)
	}
	if ErrorCode(err) != CodeSessionCompromised {
		t.Fatalf("ErrorCode=%q", ErrorCode(err))
	}

	_, err = env.engine.Refresh(ctx, third.RefreshToken, third.AccessToken)
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("latest token must be revoked by theft response, got %v", err)
	}

	rows, err := env.engine.TokenFamily(ctx, first.FamilyID)
	if err != nil {
		t.Fatalf("TokenFamily: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("family has %d rows, want 3", len(rows))
	}
	wantReasons := []ledger.RevocationReason{ledger.ReasonRotation, ledger.ReasonRotation, ledger.ReasonTheftDetected}
	for i, row := range rows {
		if !row.Revoked || row.RevokedReason != wantReasons[i] {
			t.Fatalf("row %d: revoked=%v reason=%q, want %q", i, row.Revoked, row.RevokedReason, wantReasons[i])
		}
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshTheftDetected]; got != 2 {
		t.Fatalf("theft metric=%d, want 2", got)
	}

	env.engine.Close()
	var theft *AuditEvent
	for ev := range drain(env.events) {
		if ev.Type == "refresh_theft_detected" {
			theft = &ev
			break
		}
	}
	if theft == nil {
		t.Fatal("no theft audit event")
	}
	if theft.IP != "198.51.100.7" || theft.Metadata["original_reason"] != string(ledger.ReasonRotation) {
		t.Fatalf("unexpected theft event %+v", theft)
	}
	if theft.Metadata["family_revoked"] != "1" {
		t.Fatalf("family_revoked=%q, want 1", theft.Metadata["family_revoked"])
	}
}

func drain(events <-chan AuditEvent) <-chan AuditEvent {
	out := make(chan AuditEvent, cap(events)+1)
	for {
		select {
		case ev := <-events:
			out <- ev
		default:
			close(out)
			return out
		}
	}
}

func TestRefreshExpiredAndInvalid(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "bob@example.com")
	tokens := env.login(t, "bob@example.com")

	if _, err := env.engine.Refresh(context.Background(), "garbage", tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage refresh: %v", err)
	}

	env.clock.Advance(8 * 24 * time.Hour)
	_, err := env.engine.Refresh(context.Background(), tokens.RefreshToken, tokens.AccessToken)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired refresh: got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshTheftDetected]; got != 0 {
		t.Fatal("expiry must never raise a theft signal")
	}
}

func TestLogoutThenReuseIsCompromise(t *testing.T) {
	env := newTestEnv(t, nil)
	u := env.addUser(t, "carol@example.com")
	tokens := env.login(t, "carol@example.com")

	env.engine.Logout(context.Background(), u.ID, tokens.RefreshToken)
	env.engine.Logout(context.Background(), u.ID, tokens.RefreshToken)
	env.engine.Logout(context.Background(), "someone-else", "not-a-token")

	_, err := env.engine.Refresh(context.Background(), tokens.RefreshToken, tokens.AccessToken)
	if !errors.Is(err, ErrSessionCompromised) {
		t.Fatalf("reuse after logout: got %v", err)
	}
}

func TestLoginFailuresLockAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "dave@example.com")
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Login(ctx, "dave@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := env.engine.Login(ctx, "Dave@Example.com", testPassword)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Dimension != "login_account" || rl.RetryAfter != 15*time.Minute {
		t.Fatalf("unexpected limit %+v", rl)
	}
	if !errors.Is(err, ErrRateLimited) || ErrorCode(err) != CodeRateLimited {
		t.Fatal("RateLimitError must match ErrRateLimited")
	}

	env.clock.Advance(15*time.Minute + time.Second)
	env.login(t, "dave@example.com")
}

func TestLoginSuccessResetsAccountCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "erin@example.com")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = env.engine.Login(ctx, "erin@example.com", "nope nope")
	}
	env.login(t, "erin@example.com")
	for i := 0; i < 4; i++ {
		_, _ = env.engine.Login(ctx, "erin@example.com", "nope nope")
	}
	env.login(t, "erin@example.com")
}

func TestLoginRejectsUnknownAndFederated(t *testing.T) {
	env := newTestEnv(t, nil)
	env.users.Put(User{Email: "fed@example.com", Provider: ProviderFederated})

	for _, email := range []string{"ghost@example.com", "fed@example.com"} {
		if _, err := env.engine.Login(context.Background(), email, testPassword); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: got %v", email, err)
		}
	}
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	u := env.addUser(t, "frank@example.com")
	a := env.login(t, "frank@example.com")
	b := env.login(t, "frank@example.com")
	ctx := context.Background()

	if err := env.engine.ChangePassword(ctx, u.ID, "wrong", "new password 123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old password: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, u.ID, testPassword, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("short password: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, u.ID, testPassword, "new password 123"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	for _, tok := range []Tokens{a, b} {
		if _, err := env.engine.Refresh(ctx, tok.RefreshToken, tok.AccessToken); !errors.Is(err, ErrSessionCompromised) {
			t.Fatalf("refresh after password change: %v", err)
		}
	}
	rows, _ := env.engine.TokenFamily(ctx, b.FamilyID)
	if rows[0].RevokedReason != ledger.ReasonPasswordChange {
		t.Fatalf("reason=%q", rows[0].RevokedReason)
	}

	if _, err := env.engine.Login(ctx, "frank@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, err := env.engine.Login(ctx, "frank@example.com", "new password 123"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	cases := map[string]func(*Config){
		"no encryption secret": func(c *Config) { c.TOTP.EncryptionSecret = "" },
		"short hs256 key":      func(c *Config) { c.JWT.PrivateKey = []byte("short") },
		"saml without idp":     func(c *Config) { c.SAML.Enabled = true },
		"bad totp digits":      func(c *Config) { c.TOTP.Digits = 7 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New().
				WithConfig(cfg).
				WithUserStore(NewMemoryUserStore()).
				WithTokenStore(ledger.NewMemoryStore()).
				WithRecoveryStore(recovery.NewMemoryStore()).
				Build()
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("got %v, want ErrConfiguration", err)
			}
		})
	}

	_, err := New().WithConfig(testConfig()).Build()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing stores: got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().
		WithConfig(testConfig()).
		WithUserStore(NewMemoryUserStore()).
		WithTokenStore(ledger.NewMemoryStore()).
		WithRecoveryStore(recovery.NewMemoryStore())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidCredentials, CodeInvalidCredentials},
		{ErrInvalidToken, CodeInvalidToken},
		{ErrExpiredToken, CodeExpiredToken},
		{ErrSessionCompromised, CodeSessionCompromised},
		{ErrInvalidTotpCode, CodeInvalidTotpCode},
		{ErrTotpReplay, CodeInvalidTotpCode},
		{ErrRecoveryCodeAlreadyUsed, CodeInvalidRecoveryCode},
		{ErrInvalidRecoveryCode, CodeInvalidRecoveryCode},
		{&RateLimitError{Dimension: "login_ip", RetryAfter: time.Second}, CodeRateLimited},
		{ErrSamlReplay, CodeSamlReplay},
		{ErrConfiguration, CodeConfiguration},
		{unavailable(errors.New("db down")), CodeUnavailable},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v)=%q, want %q", tc.err, got, tc.want)
		}
	}

	rl := &RateLimitError{RetryAfter: 1500 * time.Millisecond}
	if rl.RetryAfterSeconds() != 2 {
		t.Fatalf("RetryAfterSeconds=%d", rl.RetryAfterSeconds())
	}
}
