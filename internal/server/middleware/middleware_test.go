package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/bondvault/internal/cache/memory"
	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		method string
		target string
		key    string
		want   int
	}{
		{"missing key", http.MethodGet, "/api/projects", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/api/projects", "nope", http.StatusUnauthorized},
		{"header key", http.MethodPost, "/api/projects", "secret", http.StatusOK},
		{"query key on GET", http.MethodGet, "/ws?api_key=secret", "", http.StatusOK},
		{"query key ignored on POST", http.MethodPost, "/api/projects?api_key=secret", "", http.StatusUnauthorized},
		{"open path", http.MethodGet, "/api/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"code":"Unauthorized"`)
			}
		})
	}

	assert.Equal(t, http.StatusOK, serve(Auth("")(ok), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	pre := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	pre.Header.Set("Origin", "https://APP.example")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderNonce)

	pre.Header.Set("Origin", "https://evil.example")
	rec = serve(h, pre)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	get := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	get.Header.Set("Origin", "https://evil.example")
	rec = serve(h, get)
	assert.Equal(t, http.StatusOK, rec.Code, "simple requests still reach the handler")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitKeysByCaller(t *testing.T) {
	h := RateLimit(memcache.NewRateLimiter(), 1, 90*time.Second, ByCaller, slog.New(slog.DiscardHandler))(ok)

	alice := common20(1)
	bob := common20(2)
	withCaller := func(a domain.Address) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		return req.WithContext(WithCaller(req.Context(), a))
	}

	assert.Equal(t, http.StatusOK, serve(h, withCaller(alice)).Code)
	rec := serve(h, withCaller(alice))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"RateLimited"`)

	assert.Equal(t, http.StatusOK, serve(h, withCaller(bob)).Code, "callers are limited separately")
	for range 3 {
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil)).Code,
			"anonymous requests are left to the IP limit")
	}

	open := RateLimit(failingLimiter{}, 1, time.Second, ByClientIP(nil), slog.New(slog.DiscardHandler))(ok)
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRateLimitByClientIPIgnoresSpoofedHeaders(t *testing.T) {
	h := RateLimit(memcache.NewRateLimiter(), 1, time.Minute, ByClientIP(nil), slog.New(slog.DiscardHandler))(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	req.Header.Set("X-Real-IP", "198.51.100.3")
	assert.Equal(t, http.StatusTooManyRequests, serve(h, req).Code)
}

func common20(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "::ffff:172.16.0.1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct peer", "10.0.0.9:5555", "", "", "10.0.0.9"},
		{"untrusted peer ignores headers", "203.0.113.5:80", "198.51.100.1", "192.0.2.7", "203.0.113.5"},
		{"trusted peer uses real ip", "10.0.0.9:5555", "", "192.0.2.7", "192.0.2.7"},
		{"rightmost untrusted hop", "10.0.0.9:5555", "1.1.1.1, 198.51.100.1, 10.0.0.1", "", "198.51.100.1"},
		{"mapped v4 proxy", "172.16.0.1:443", "198.51.100.4", "", "198.51.100.4"},
		{"all hops trusted", "10.0.0.9:5555", "10.1.1.1", "", "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req, trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{" 10.1.2.3/8 ", "", "2001:db8::1"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::1/128"),
	}, got)

	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func signedRequest(t *testing.T, signer *crypto.Signer, nonce string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/purchase", bytes.NewReader(body))
	now := time.Now()
	sig, err := signer.SignRequest(req.Method, req.URL.RequestURI(), now, nonce, body)
	require.NoError(t, err)
	req.Header.Set(crypto.HeaderAddress, signer.Address().Hex())
	req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(crypto.HeaderNonce, nonce)
	req.Header.Set(crypto.HeaderSignature, sig)
	return req
}

type brokenGuard struct{}

func (brokenGuard) Remember(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestIdentityRejectsReplays(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	h := Identity(time.Minute, memcache.NewReplayGuard(), nil)(ok)
	body := []byte(`{"amount":"5"}`)

	first := signedRequest(t, signer, "n-1", body)
	again := httptest.NewRequest(http.MethodPost, first.URL.RequestURI(), bytes.NewReader(body))
	again.Header = first.Header.Clone()

	assert.Equal(t, http.StatusOK, serve(h, first).Code)
	rec := serve(h, again)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"Unauthorized"`)

	assert.Equal(t, http.StatusOK, serve(h, signedRequest(t, signer, "n-2", body)).Code)

	long := signedRequest(t, signer, strings.Repeat("x", crypto.MaxNonceLen+1), body)
	assert.Equal(t, http.StatusUnauthorized, serve(h, long).Code)

	down := Identity(time.Minute, brokenGuard{}, nil)(ok)
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, signedRequest(t, signer, "n-3", body)).Code)

	open := Identity(time.Minute, nil, nil)(ok)
	repeat := signedRequest(t, signer, "n-4", body)
	twice := httptest.NewRequest(http.MethodPost, repeat.URL.RequestURI(), bytes.NewReader(body))
	twice.Header = repeat.Header.Clone()
	assert.Equal(t, http.StatusOK, serve(open, repeat).Code)
	assert.Equal(t, http.StatusOK, serve(open, twice).Code)
}

func TestLoggingRecordsVerifiedCaller(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var seen domain.Address
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = Caller(r.Context())
		w.WriteHeader(http.StatusCreated)
	})
	h := Logging(logger, metrics.New())(Identity(time.Minute, memcache.NewReplayGuard(), nil)(inner))

	req := signedRequest(t, signer, "n-1", []byte(`{"amount":"5"}`))

	rec := serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, signer.Address(), seen)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, float64(http.StatusCreated), line["status"])
	assert.Equal(t, signer.Address().Hex(), line["caller"])
}

func TestLoggingLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logging(logger, nil)(Auth("secret")(ok))

	serve(h, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.NotContains(t, line, "caller")
}
