package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxyConfig(t *testing.T, cidrs ...string) *pkghttp.IPConfig {
	t.Helper()
	cfg, invalid := pkghttp.NewIPConfig(cidrs)
	require.Empty(t, invalid)
	return cfg
}

// Forwarding headers from an untrusted peer must never change the client id,
// otherwise an attacker rotates X-Forwarded-For to dodge admission control.
func TestExtractClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login/plaintext", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	cfg := proxyConfig(t, "10.0.0.0/8", "127.0.0.1/32")

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxy_UsesForwardedClient(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.42")

	cfg := proxyConfig(t, "10.0.0.0/8")

	assert.Equal(t, "203.0.113.42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxy_IgnoresSpoofedLeftmostHop(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	// client sent "1.1.1.1" itself; the proxy appended the real peer
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.42")

	cfg := proxyConfig(t, "10.0.0.0/8")

	assert.Equal(t, "203.0.113.42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxyChain_SkipsInnerProxies(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.42, 10.0.0.9")

	cfg := proxyConfig(t, "10.0.0.0/8")

	assert.Equal(t, "203.0.113.42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_TrustedProxy_FallsBackToXRealIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	cfg := proxyConfig(t, "10.0.0.0/8")

	assert.Equal(t, "198.51.100.7", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_IPv6(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	req.Header.Set("X-Forwarded-For", "2001:db8:ffff::42")

	cfg := proxyConfig(t, "2001:db8::/64")

	assert.Equal(t, "2001:db8:ffff::42", pkghttp.ExtractClientIP(req, cfg))
}

func TestExtractClientIP_NilConfig_UsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	req.Header.Set("X-Forwarded-For", "8.8.8.8")

	assert.Equal(t, "127.0.0.1", pkghttp.ExtractClientIP(req, nil))
}

func TestExtractClientIP_UnparseableRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = ""

	assert.Equal(t, "unknown", pkghttp.ExtractClientIP(req, nil))
}

func TestNewIPConfig_ReportsInvalidEntries(t *testing.T) {
	cfg, invalid := pkghttp.NewIPConfig([]string{"10.0.0.0/8", "not-a-cidr", " 192.168.0.1 ", ""})

	assert.Equal(t, []string{"not-a-cidr"}, invalid)
	assert.Len(t, cfg.TrustedProxies, 2)
}

func TestUserAgent(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Del("User-Agent")
	assert.Nil(t, pkghttp.UserAgent(req))

	req.Header.Set("User-Agent", strings.Repeat("a", 600))
	ua := pkghttp.UserAgent(req)
	require.NotNil(t, ua)
	assert.Len(t, *ua, 512)
}
