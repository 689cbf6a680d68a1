package auth

import (
	"context"
	"testing"
	"time"
)

func testGuard(t *testing.T, password string, ttl time.Duration) *Guard {
	g, err := NewGuard(password, nil, ttl, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestLoginIssuesValidSession(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 24*time.Hour)
	token, err := g.Login(ctx, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if !g.Check(ctx, token) {
		t.Fatal("freshly issued session did not check")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 24*time.Hour)
	if _, err := g.Login(ctx, "nope"); err != ErrBadCredential {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestGuardFailsClosedWithoutSecret(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "", 24*time.Hour)
	if g.Enabled() {
		t.Fatal("guard should be disabled without a secret")
	}
	if _, err := g.Login(ctx, "anything"); err != ErrGuardDisabled {
		t.Fatalf("expected ErrGuardDisabled, got %v", err)
	}
	if g.Check(ctx, "some-token") {
		t.Fatal("disabled guard accepted a token")
	}
}

func TestCheckRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 24*time.Hour)
	for _, tok := range []string{"", "not-a-token", "AAAA", "!!!!"} {
		if g.Check(ctx, tok) {
			t.Fatalf("garbage token %q checked", tok)
		}
	}
}

func TestCheckRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	a := testGuard(t, "hunter2", 24*time.Hour)
	b := testGuard(t, "hunter2", 24*time.Hour)
	token, err := a.Login(ctx, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if b.Check(ctx, token) {
		t.Fatal("token sealed under a different key checked")
	}
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 50*time.Millisecond)
	token, err := g.Login(ctx, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	// Unix-second expiry granularity: wait past the boundary.
	time.Sleep(1100 * time.Millisecond)
	if g.Check(ctx, token) {
		t.Fatal("expired session checked")
	}
}

func TestLogoutRevokesImmediately(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 24*time.Hour)
	token, err := g.Login(ctx, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Logout(ctx, token); err != nil {
		t.Fatal(err)
	}
	if g.Check(ctx, token) {
		t.Fatal("session checked after logout")
	}
	// Second logout of the same token is harmless.
	if err := g.Logout(ctx, token); err != nil {
		t.Fatal(err)
	}
}

func TestLogoutIgnoresGarbage(t *testing.T) {
	ctx := context.Background()
	g := testGuard(t, "hunter2", 24*time.Hour)
	if err := g.Logout(ctx, "not-a-token"); err != nil {
		t.Fatal(err)
	}
}
