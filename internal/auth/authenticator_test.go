package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	if a.idleTimeout != 15*time.Minute {
		t.Errorf("idleTimeout = %v, want 15m", a.idleTimeout)
	}
	if a.sweepInterval != time.Minute {
		t.Errorf("sweepInterval = %v, want 1m", a.sweepInterval)
	}
}

func TestHandshake_ValidToken(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	token, err := a.Handshake("peer-1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("session id length = %d, want 64 hex chars", len(token))
	}
	if err := a.Validate(token); err != nil {
		t.Errorf("Validate() after handshake: %v", err)
	}
}

func TestHandshake_InvalidToken(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	_, err := a.Handshake("peer-1", "wrong")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestHandshake_DistinctSessionIDs(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	t1, err := a.Handshake("peer-1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, err := a.Handshake("peer-2", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if t1 == t2 {
		t.Fatal("two handshakes issued identical session ids")
	}
}

func TestHandshake_RateLimited(t *testing.T) {
	a := New(Config{
		ExpectedToken: "secret",
		RateLimiter:   RateLimiterConfig{MaxFailures: 3, Window: time.Minute, Cooldown: time.Hour},
	})
	for i := 0; i < 3; i++ {
		if _, err := a.Handshake("peer-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidToken", i, err)
		}
	}
	_, err := a.Handshake("peer-1", "secret")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited even with correct token", err)
	}
}

func TestHandshake_RateLimitIsPerSource(t *testing.T) {
	a := New(Config{
		ExpectedToken: "secret",
		RateLimiter:   RateLimiterConfig{MaxFailures: 1, Window: time.Minute, Cooldown: time.Hour},
	})
	if _, err := a.Handshake("peer-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := a.Handshake("peer-1", "secret"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("peer-1 err = %v, want ErrRateLimited", err)
	}
	if _, err := a.Handshake("peer-2", "secret"); err != nil {
		t.Fatalf("peer-2 should be unaffected by peer-1's cooldown: %v", err)
	}
}

func TestHandshake_SuccessResetsFailureCount(t *testing.T) {
	a := New(Config{
		ExpectedToken: "secret",
		RateLimiter:   RateLimiterConfig{MaxFailures: 2, Window: time.Minute, Cooldown: time.Hour},
	})
	if _, err := a.Handshake("peer-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := a.Handshake("peer-1", "secret"); err != nil {
		t.Fatalf("unexpected error on success: %v", err)
	}
	if _, err := a.Handshake("peer-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken (should not be rate limited yet)", err)
	}
}

func TestValidate_UnknownSession(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	if err := a.Validate("not-a-real-session"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession", err)
	}
}

func TestClose_RemovesSession(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	token, err := a.Handshake("peer-1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Close(token)
	if err := a.Validate(token); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession after Close", err)
	}
}

func TestRun_SweepsIdleSessions(t *testing.T) {
	a := New(Config{
		ExpectedToken: "secret",
		IdleTimeout:   10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	token, err := a.Handshake("peer-1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.SessionCount() == 0 {
			if err := a.Validate(token); !errors.Is(err, ErrUnknownSession) {
				t.Fatalf("err = %v, want ErrUnknownSession after sweep", err)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("idle session was never swept")
}

func TestSessionCount(t *testing.T) {
	a := New(Config{ExpectedToken: "secret"})
	if a.SessionCount() != 0 {
		t.Fatalf("SessionCount() = %d, want 0", a.SessionCount())
	}
	if _, err := a.Handshake("peer-1", "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", a.SessionCount())
	}
}
