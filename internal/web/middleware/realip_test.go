package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"trusted cidr uses X-Real-IP", "10.1.2.3:5555", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted single address uses first forwarded", "192.168.1.5:80", map[string]string{"X-Forwarded-For": "198.51.100.4, 10.1.1.1"}, "198.51.100.4"},
		{"X-Real-IP wins over forwarded", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.1", "X-Forwarded-For": "198.51.100.4"}, "203.0.113.1"},
		{"untrusted proxy ignored", "203.0.113.50:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.50"},
		{"garbage header ignored", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "nonsense"}, "10.0.0.1"},
		{"no headers", "10.0.0.1:1", nil, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[::ffff:192.0.2.7]:80", "192.0.2.7"},
		{"192.0.2.8", "192.0.2.8"},
		{"pipe", "pipe"},
	}

	for _, tt := range tests {
		req := &http.Request{RemoteAddr: tt.remoteAddr}
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
