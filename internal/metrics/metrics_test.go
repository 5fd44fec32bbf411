package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryTracksConnectionsAndCGI(t *testing.T) {
	r := New()

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.CGISpawned()

	body := scrape(t, r)
	require.Contains(t, body, "webserv_connections_active 1")
	require.Contains(t, body, "webserv_connections_total 2")
	require.Contains(t, body, "webserv_cgi_processes_active 1")
	require.Contains(t, body, "webserv_cgi_processes_total 1")
}

func TestRegistryRequestServedLabelsByMethodAndStatus(t *testing.T) {
	r := New()

	r.RequestServed("get", 200)
	r.RequestServed("DELETE", 404)
	r.RequestServed("bogus-method", 200)

	body := scrape(t, r)
	require.Contains(t, body, `webserv_requests_total{method="GET"} 1`)
	require.Contains(t, body, `webserv_requests_total{method="DELETE"} 1`)
	require.Contains(t, body, `webserv_requests_total{method="OTHER"} 1`)
	require.Contains(t, body, `webserv_responses_total{code="200"} 2`)
	require.Contains(t, body, `webserv_responses_total{code="404"} 1`)
}

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestSanitizeMethod(t *testing.T) {
	tests := []struct {
		method   string
		expected string
	}{
		{method: "get", expected: "GET"},
		{method: "POST", expected: "POST"},
		{method: "OPTIONS", expected: "OPTIONS"},
		{method: "connect", expected: "CONNECT"},
		{method: "trace", expected: "TRACE"},
		{method: "UNKNOWN", expected: "OTHER"},
	}
	for _, d := range tests {
		require.Equal(t, d.expected, SanitizeMethod(d.method))
	}
}

func TestSanitizeCode(t *testing.T) {
	require.Equal(t, "200", SanitizeCode(0))
	require.Equal(t, "200", SanitizeCode(200))
	require.Equal(t, "404", SanitizeCode(404))
	require.Equal(t, "500", SanitizeCode(500))
}
