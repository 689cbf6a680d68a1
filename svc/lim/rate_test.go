package lim

import (
	"net/http/httptest"
	"testing"
)

func TestCheckLimitExhaustsBurst(t *testing.T) {
	l := New(60, 3, nil)
	defer l.Stop()
	r := httptest.NewRequest("POST", "/pastes", nil)
	r.RemoteAddr = "192.0.2.10:4444"
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.CheckLimit(r, "create").Allowed {
			allowed++
		}
	}
	if allowed > 4 {
		t.Fatalf("burst of 3 allowed %d requests", allowed)
	}
}

func TestCheckLimitSeparatePerIP(t *testing.T) {
	l := New(60, 1, nil)
	defer l.Stop()
	a := httptest.NewRequest("POST", "/pastes", nil)
	a.RemoteAddr = "192.0.2.10:4444"
	b := httptest.NewRequest("POST", "/pastes", nil)
	b.RemoteAddr = "192.0.2.11:4444"
	if !l.CheckLimit(a, "create").Allowed {
		t.Fatal("first request from a blocked")
	}
	if !l.CheckLimit(b, "create").Allowed {
		t.Fatal("first request from b blocked")
	}
}

func TestGetRealIPIgnoresSpoofedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:1234"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	if got := GetRealIP(r, nil); got != "203.0.113.7" {
		t.Fatalf("got %q", got)
	}
}

func TestGetRealIPBehindTrustedProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	if got := GetRealIP(r, []string{"10.0.0.0/8"}); got != "198.51.100.9" {
		t.Fatalf("got %q", got)
	}
}
