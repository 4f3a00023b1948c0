package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"172.16.0.0/12", "192.168.50.2"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "direct peer when nothing is trusted",
			remoteAddr: "198.51.100.10:5050",
			xff:        "203.0.113.5",
			want:       "198.51.100.10",
		},
		{
			name:       "untrusted peer cannot spoof forwarded headers",
			remoteAddr: "198.51.100.10:5050",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "198.51.100.10",
		},
		{
			name:       "right-most untrusted hop behind proxy chain",
			remoteAddr: "172.16.4.4:80",
			xff:        "203.0.113.9, 203.0.113.5, 192.168.50.2",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip when forwarded-for is garbage",
			remoteAddr: "192.168.50.2:80",
			xff:        "not-an-ip",
			xrip:       "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "ipv4-mapped ipv6 peer is unmapped",
			remoteAddr: "[::ffff:172.16.0.9]:80",
			xff:        "203.0.113.44",
			trusted:    trusted,
			want:       "203.0.113.44",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.80",
			want:       "203.0.113.80",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "http://gate.local/auth/login/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	got, err := NewTrustedProxies([]string{" ", ""})
	if err != nil || got != nil {
		t.Fatalf("blank entries should trust nobody, got %v err=%v", got, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatalf("expected error for invalid prefix")
	}
	if _, err := NewTrustedProxies([]string{"proxy.local"}); err == nil {
		t.Fatalf("expected error for hostname entry")
	}
}
