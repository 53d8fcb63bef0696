package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Kronh4rd/kolibri/internal/config"
	"github.com/Kronh4rd/kolibri/internal/rest"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"example.com", "https://example.com/", true},
		{"http://example.com", "http://example.com/", true},
		{"https://example.com/", "https://example.com/", true},
		{"example.com:7443", "https://example.com:7443/", true},
		{"not a host!!", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("NormalizeURL(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("NormalizeURL(%q) should fail", tc.in)
		}
	}
}

func TestBrokerHost(t *testing.T) {
	cases := map[string]string{
		"https://example.com/":      "example.com",
		"http://example.com/":       "example.com",
		"https://example.com:7443/": "example.com",
		"https://chat.example.de/":  "chat.example.de",
	}
	for in, want := range cases {
		if got := BrokerHost(in); got != want {
			t.Fatalf("BrokerHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVersionCompatible(t *testing.T) {
	if !VersionCompatible("2.0.0", "2.4.1") {
		t.Fatalf("same major should be compatible")
	}
	if VersionCompatible("2.0.0", "3.0.0") {
		t.Fatalf("different major should be incompatible")
	}
	if !VersionCompatible("1.0.0", "1.9.27") {
		t.Fatalf("minor/patch mismatch should be accepted")
	}
}

func fakeBackend(t *testing.T, version string, port int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		switch r.URL.Path {
		case "/api/v1/common/healthcheck":
			body = map[string]any{"message": "ok"}
		case "/api/v1/config/broker-port":
			body = map[string]any{"message": "ok", "content": port}
		case "/api/v1/common/version":
			body = map[string]any{"message": "ok", "content": version}
		default:
			http.NotFound(w, r)
			return
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "kolibri.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestConnectCommitsEndpointTriple(t *testing.T) {
	srv := fakeBackend(t, "1.4.2", 5672)
	defer srv.Close()

	cfg := newTestConfig(t)
	conn := NewConnector(cfg)
	if err := conn.Connect(context.Background(), srv.URL); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !cfg.EndpointCommitted() {
		t.Fatalf("expected committed endpoint")
	}
	if cfg.BrokerHost != "127.0.0.1" {
		t.Fatalf("unexpected broker host %q", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 5672 {
		t.Fatalf("unexpected broker port %d", cfg.BrokerPort)
	}
}

func TestConnectRejectsMajorVersionMismatch(t *testing.T) {
	srv := fakeBackend(t, "2.0.0", 5672)
	defer srv.Close()

	cfg := newTestConfig(t)
	err := NewConnector(cfg).Connect(context.Background(), srv.URL)
	var connErr *ConnectError
	if !errors.As(err, &connErr) || connErr.Stage != StageVersion {
		t.Fatalf("expected version stage failure, got: %v", err)
	}
	if cfg.EndpointCommitted() {
		t.Fatalf("failed handshake must not commit")
	}
}

func TestConnectInvalidInputMakesNoNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	conn := NewConnector(cfg)
	conn.dial = func(baseURL string) *rest.Client {
		return rest.NewClient(srv.URL)
	}
	err := conn.Connect(context.Background(), "not a host!!")
	var connErr *ConnectError
	if !errors.As(err, &connErr) || connErr.Stage != StageNormalize {
		t.Fatalf("expected normalize stage failure, got: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("invalid input must be rejected before any network call")
	}
}

func TestConnectUnreachableBackendCommitsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := newTestConfig(t)
	err := NewConnector(cfg).Connect(context.Background(), srv.URL)
	var connErr *ConnectError
	if !errors.As(err, &connErr) || connErr.Stage != StageHealthcheck {
		t.Fatalf("expected healthcheck stage failure, got: %v", err)
	}
	if cfg.EndpointCommitted() {
		t.Fatalf("unreachable backend must not commit")
	}
}
