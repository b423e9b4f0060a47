package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ChiefKeeper-Chain/sdk/go/chiefkeeper"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chiefkeeper.Status{
			Network:          "mainnet",
			Running:          true,
			LastBlockChecked: 18000000,
			Leader: chiefkeeper.LeaderRecord{
				Address: "0x00000000000000000000000000000000000000aa",
				Eta:     1700000000,
			},
			MaxErrors: 100,
		})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := chiefkeeper.NewClient(srv.URL, nil)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.GetStatus(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("network=%s block=%d hat=%s eta=%d done=%v\n",
		status.Network, status.LastBlockChecked,
		status.Leader.Address, status.Leader.Eta, status.Leader.Done)

	healthy, err := client.Healthy(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("healthy:", healthy)
}
