package unfurl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return NewResolver(&http.Client{Timeout: 2 * time.Second})
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveOpenGraph(t *testing.T) {
	srv := serve(t, `<!doctype html><html><head>
		<title>Fallback Title</title>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG Description">
		<meta property="og:image" content="https://cdn.example.com/img.png">
		<link rel="icon" href="/static/favicon.png">
	</head><body>ignored</body></html>`)

	res := testResolver().Resolve(context.Background(), srv.URL)
	assert.Equal(t, "OG Title", res.Title)
	assert.Equal(t, "OG Description", res.Description)
	assert.Equal(t, "https://cdn.example.com/img.png", res.Image)
	assert.Equal(t, srv.URL+"/static/favicon.png", res.Favicon)
}

func TestResolveFallbacks(t *testing.T) {
	srv := serve(t, `<!doctype html><html><head>
		<title>Page Title</title>
		<meta name="description" content="Plain description">
		<meta name="twitter:image" content="/relative/img.jpg">
	</head><body></body></html>`)

	res := testResolver().Resolve(context.Background(), srv.URL)
	assert.Equal(t, "Page Title", res.Title)
	assert.Equal(t, "Plain description", res.Description)
	assert.Equal(t, srv.URL+"/relative/img.jpg", res.Image)
	// No icon link: default favicon location.
	assert.Equal(t, srv.URL+"/favicon.ico", res.Favicon)
}

func TestResolveUnreachableHostIsEmpty(t *testing.T) {
	res := testResolver().Resolve(context.Background(), "http://does-not-resolve.invalid./")
	assert.Equal(t, Result{}, res)
}

func TestResolveNonHTTPSchemeIsEmpty(t *testing.T) {
	res := testResolver().Resolve(context.Background(), "file:///etc/passwd")
	assert.Equal(t, Result{}, res)

	res = testResolver().Resolve(context.Background(), "::not a url::")
	assert.Equal(t, Result{}, res)
}

func TestResolveServerErrorIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	res := testResolver().Resolve(context.Background(), srv.URL)
	assert.Equal(t, Result{}, res)
}

func TestResolveGarbageHTMLIsTolerated(t *testing.T) {
	srv := serve(t, `<<<<not <html at all`)
	res := testResolver().Resolve(context.Background(), srv.URL)
	// Parse produced nothing, but the default favicon is still derived.
	assert.Empty(t, res.Title)
	assert.Empty(t, res.Image)
	assert.Equal(t, srv.URL+"/favicon.ico", res.Favicon)
}

func TestResolveFollowsRedirects(t *testing.T) {
	target := serve(t, `<html><head><meta property="og:title" content="Final"></head></html>`)
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	t.Cleanup(hop.Close)

	res := testResolver().Resolve(context.Background(), hop.URL)
	assert.Equal(t, "Final", res.Title)
	// Relative references anchor on the final URL, not the first hop.
	assert.Equal(t, target.URL+"/favicon.ico", res.Favicon)
}

func TestResolveRedirectLoopIsEmpty(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	res := testResolver().Resolve(context.Background(), srv.URL)
	assert.Equal(t, Result{}, res)
}

func TestFirstMetaValueWins(t *testing.T) {
	srv := serve(t, `<html><head>
		<meta property="og:title" content="First">
		<meta property="og:title" content="Second">
	</head></html>`)

	res := testResolver().Resolve(context.Background(), srv.URL)
	require.Equal(t, "First", res.Title)
}
