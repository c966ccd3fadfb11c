package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarded headers",
			remoteAddr: "198.51.100.10:4000",
			xff:        "203.0.113.5",
			realIP:     "203.0.113.6",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted peer believes x-forwarded-for",
			remoteAddr: "10.1.2.3:4000",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "first untrusted hop from the right wins",
			remoteAddr: "10.1.2.3:4000",
			xff:        "203.0.113.5, 10.9.9.9",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip fallback when xff unusable",
			remoteAddr: "10.1.2.3:4000",
			xff:        "not-an-ip",
			realIP:     "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "fully trusted chain returns leftmost hop",
			remoteAddr: "10.1.2.3:4000",
			xff:        "10.0.0.5, 10.0.0.6",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
		{
			name:       "bare trusted ip entry matches",
			remoteAddr: "192.168.1.10:9999",
			xff:        "203.0.113.9",
			trusted:    trusted,
			want:       "203.0.113.9",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"not-a-network"}); err == nil {
		t.Fatal("expected error for invalid entry")
	}
	tp, err := NewTrustedProxies([]string{"", "  "})
	if err != nil {
		t.Fatalf("blank entries should be skipped: %v", err)
	}
	if tp != nil {
		t.Fatal("expected nil allowlist for empty input")
	}
}
