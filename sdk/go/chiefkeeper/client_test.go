package chiefkeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(Status{
			Network:          "mainnet",
			Running:          true,
			LastBlockChecked: 1234,
			Leader: LeaderRecord{
				Address: "0x00000000000000000000000000000000000000aa",
				Eta:     1700000000,
			},
			MaxErrors: 100,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Network != "mainnet" {
		t.Fatalf("unexpected network: %q", status.Network)
	}
	if status.LastBlockChecked != 1234 {
		t.Fatalf("unexpected checkpoint: %d", status.LastBlockChecked)
	}
	if status.Leader.Eta != 1700000000 {
		t.Fatalf("unexpected leader eta: %d", status.Leader.Eta)
	}
}

func TestGetStatusSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "keeper 未初始化", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetStatus(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status code: %d", apiErr.StatusCode)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	healthy, err := client.Healthy(context.Background())
	if err != nil {
		t.Fatalf("healthy: %v", err)
	}
	if !healthy {
		t.Fatal("expected healthy daemon")
	}
}
