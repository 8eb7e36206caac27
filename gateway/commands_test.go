package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newBrokerStub(t *testing.T, commandStatus *atomic.Int64, hits map[string]*atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n, ok := hits[r.URL.Path]; ok {
			n.Add(1)
		}
		if r.URL.Path == pathLoginKey {
			var creds map[string]string
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds["userName"] != "trader" || creds["apiKey"] != "k-123" {
				io.WriteString(w, `{"success":false,"errorMessage":"bad key"}`)
				return
			}
			io.WriteString(w, `{"success":true,"token":"tok-1"}`)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(int(commandStatus.Load()))
	}))
}

func TestRESTCommanderDisableTrading(t *testing.T) {
	status := &atomic.Int64{}
	status.Store(http.StatusOK)
	logins := &atomic.Int64{}
	ts := newBrokerStub(t, status, map[string]*atomic.Int64{pathLoginKey: logins})
	defer ts.Close()

	c := NewRESTCommander(ts.URL, "trader", "k-123", 100, 10)
	ctx := context.Background()
	if err := c.DisableTrading(ctx, "A1"); err != nil {
		t.Fatalf("disable err: %v", err)
	}
	if err := c.Cooldown(ctx, "A1", 15*time.Minute); err != nil {
		t.Fatalf("cooldown err: %v", err)
	}
	// token cached across calls
	if got := logins.Load(); got != 1 {
		t.Fatalf("expected single login, got %d", got)
	}
}

func TestRESTCommanderFlattenPayload(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathLoginKey {
			io.WriteString(w, `{"success":true,"token":"tok-1"}`)
			return
		}
		if r.URL.Path != pathClose {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewRESTCommander(ts.URL, "trader", "k-123", 100, 10)
	if err := c.FlattenAll(context.Background(), "A1", "MNQ"); err != nil {
		t.Fatalf("flatten err: %v", err)
	}
	if got["accountId"] != "A1" || got["symbol"] != "MNQ" || got["cancelOrders"] != true {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestRESTCommanderReloginsOn401(t *testing.T) {
	tokens := []string{"tok-old", "tok-1"}
	logins := &atomic.Int64{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathLoginKey {
			i := logins.Add(1) - 1
			if int(i) >= len(tokens) {
				i = int64(len(tokens) - 1)
			}
			io.WriteString(w, `{"success":true,"token":"`+tokens[i]+`"}`)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewRESTCommander(ts.URL, "trader", "k-123", 100, 10)
	if err := c.DisableTrading(context.Background(), "A1"); err != nil {
		t.Fatalf("disable err: %v", err)
	}
	if got := logins.Load(); got != 2 {
		t.Fatalf("expected relogin, got %d logins", got)
	}
}

func TestRESTCommanderBreakerOpensAfterFailures(t *testing.T) {
	status := &atomic.Int64{}
	status.Store(http.StatusServiceUnavailable)
	disables := &atomic.Int64{}
	ts := newBrokerStub(t, status, map[string]*atomic.Int64{pathDisable: disables})
	defer ts.Close()

	c := NewRESTCommander(ts.URL, "trader", "k-123", 100, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.DisableTrading(ctx, "A1"); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}
	before := disables.Load()
	if err := c.DisableTrading(ctx, "A1"); err == nil {
		t.Fatalf("expected breaker rejection")
	}
	// open breaker fails fast without hitting the broker
	if disables.Load() != before {
		t.Fatalf("breaker should not forward requests while open")
	}
}
