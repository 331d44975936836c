package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr v4", "192.0.2.55:54321", nil, "192.0.2.55"},
		{"remote addr v6", "[2001:db8::5]:8443", nil, "2001:db8::5"},
		{"remote addr without port", "not_an_ip_port", nil, "not_an_ip_port"},
		{"first forwarded hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 198.51.100.7 , 203.0.113.9"}, "198.51.100.7"},
		{"forwarded v6", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.9"}, "2001:db8::1"},
		{"empty first hop falls through", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " , 203.0.113.9", "X-Real-IP": "203.0.113.12"}, "203.0.113.12"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.12"}, "203.0.113.12"},
		{"forwarded wins over real ip", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "198.51.100.77", "X-Real-IP": "203.0.113.200"}, "198.51.100.77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}
