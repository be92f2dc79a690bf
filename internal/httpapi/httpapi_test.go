package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/cache"
	"proxy-fleet-evaluator/internal/descriptor"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestHealthReturnsOK(t *testing.T) {
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestCacheNotReadyReturns503(t *testing.T) {
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	for _, path := range []string{"/cache", "/cache/raw", "/cache/base64", "/cache/all/base64"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestLiveReturns429WhenProcessingChannelUnset(t *testing.T) {
	// A zero-value Cache has a nil processing channel: sending to it always
	// blocks, so IsProcessing's select falls to default and reports busy.
	// This exercises the explicit IsProcessing pre-check in handleLive.
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/servers/live")
	if err != nil {
		t.Fatalf("GET /servers/live: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestSiteSpecificMissingURLReturns400(t *testing.T) {
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/subscription/site-specific")
	if err != nil {
		t.Fatalf("GET /subscription/site-specific: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSiteSpecificNotReadyReturns503(t *testing.T) {
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/subscription/site-specific?url=https://example.com")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestJoinRawURIsJoinsWithNewlines(t *testing.T) {
	servers := []*descriptor.ServerDescriptor{
		{RawURI: "vless://one"},
		{RawURI: "vless://two"},
	}
	got := joinRawURIs(servers)
	want := "vless://one\nvless://two"
	if got != want {
		t.Errorf("joinRawURIs = %q, want %q", got, want)
	}
}

func TestWritePlainBase64EncodesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writePlainBase64(rec, "vless://one\nvless://two")

	decoded, err := base64.StdEncoding.DecodeString(rec.Body.String())
	if err != nil {
		t.Fatalf("response body is not valid base64: %v", err)
	}
	if string(decoded) != "vless://one\nvless://two" {
		t.Errorf("decoded = %q, want original raw URIs", decoded)
	}
}

func TestHealthRespondsWithinBudget(t *testing.T) {
	s := New(&cache.Cache{}, testLogger())
	srv := httptest.NewServer(s)
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		resp, err := http.Get(srv.URL + "/health")
		if err == nil {
			resp.Body.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not respond within 5s")
	}
}
