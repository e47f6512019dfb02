package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"auditlog/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"first forwarded hop wins", "10.0.0.9:1234", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.3"}, "203.0.113.7"},
		{"single forwarded address", "10.0.0.9:1234", map[string]string{"X-Forwarded-For": " 203.0.113.7 "}, "203.0.113.7"},
		{"forwarded beats real ip", "10.0.0.9:1234", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.1"}, "203.0.113.7"},
		{"real ip", "10.0.0.9:1234", map[string]string{"X-Real-IP": "198.51.100.1"}, "198.51.100.1"},
		{"peer ipv4", "192.0.2.1:5555", nil, "192.0.2.1"},
		{"peer ipv6", "[2001:db8::1]:5555", nil, "2001:db8::1"},
		{"peer without port", "192.0.2.1", nil, "192.0.2.1"},
		{"nothing known", "", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("User-Agent", "curl/8.4.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Equal(t, "curl/8.4.0", gotUA)
}

func TestClientLabel(t *testing.T) {
	firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	label := ClientLabel(firefox)
	assert.Contains(t, label, "Firefox")
	assert.Contains(t, label, " on ")
	assert.NotContains(t, label, "(bot)")

	bot := ClientLabel("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.Contains(t, bot, "(bot)")

	assert.Equal(t, "", ClientLabel("  "))
}

func TestClientMetadata_SetsClientLabel(t *testing.T) {
	var got string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.ClientLabel(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Contains(t, got, "Firefox")
}

func TestRequestID(t *testing.T) {
	var got string
	h := middleware.RequestID(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestcontext.RequestID(r.Context())
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(middleware.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "req-42", got)
}
