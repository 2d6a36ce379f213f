package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsAllowedIP(t *testing.T) {
	cidrs := []string{"127.0.0.1/32", "10.0.0.0/8", "not-a-cidr", "::1/128"}
	cases := map[string]bool{
		"127.0.0.1":   true,
		"10.20.30.40": true,
		"::1":         true,
		"192.168.1.1": false,
		"garbage":     false,
		"":            false,
	}
	for ip, want := range cases {
		if got := IsAllowedIP(ip, cidrs); got != want {
			t.Fatalf("IsAllowedIP(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestAllowCIDRs(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := AllowCIDRs([]string{"127.0.0.1/32"}, ok)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:51234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for loopback, got %d", rec.Code)
	}

	req.RemoteAddr = "203.0.113.9:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outside address, got %d", rec.Code)
	}
}
