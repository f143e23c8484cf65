package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
		stripped   bool
	}{
		{"no hops ignores xff", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1", true},
		{"public peer ignores xff", "198.51.100.7:443", "203.0.113.50", 1, "198.51.100.7", true},
		{"single hop takes rightmost", "10.0.0.1:1234", "198.51.100.1, 203.0.113.50", 1, "203.0.113.50", false},
		{"two hops takes second from end", "10.0.0.1:1234", "203.0.113.50, 198.51.100.9, 10.0.0.5", 2, "198.51.100.9", false},
		{"too few entries fails closed", "10.0.0.1:1234", "203.0.113.50", 3, "10.0.0.1", true},
		{"garbage entry falls back to peer", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1", false},
		{"loopback peer is trusted", "127.0.0.1:9", "203.0.113.50", 1, "203.0.113.50", false},
		{"ipv4-mapped peer", "[::ffff:10.0.0.1]:1234", "", 1, "10.0.0.1", false},
		{"malformed remote addr", "garbage", "", 0, "garbage", false},
		{"empty remote addr", "", "", 0, "0.0.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			r.Header.Set("X-Forwarded-Proto", "https")

			if got := extractRealClientAddr(r, tt.hops); got != tt.want {
				t.Fatalf("client = %q, want %q", got, tt.want)
			}
			if gone := r.Header.Get("X-Forwarded-Proto") == ""; gone != tt.stripped {
				t.Fatalf("forwarded headers stripped = %v, want %v", gone, tt.stripped)
			}
		})
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:5000"
	r.Header.Set("X-Forwarded-For", "203.0.113.77")

	ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(handler).ServeHTTP(httptest.NewRecorder(), r)

	if got != "203.0.113.77" {
		t.Fatalf("ClientIPFromContext = %q, want 203.0.113.77", got)
	}
}

func TestWithClientIP_Empty(t *testing.T) {
	if got := ClientIPFromContext(WithClientIP(context.Background(), "")); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
