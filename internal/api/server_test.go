package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ChiefKeeper-Chain/internal/keeper"
	"ChiefKeeper-Chain/internal/state"
	"ChiefKeeper-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type stubChain struct {
	hat common.Address
}

func (s stubChain) CurrentBlockNumber(context.Context) (uint64, error) { return 42, nil }

func (s stubChain) BlockTimestamp(context.Context, uint64) (uint64, error) { return 0, nil }

func (s stubChain) HasCode(context.Context, common.Address) (bool, error) { return true, nil }

func (s stubChain) HatAddress(context.Context) (common.Address, error) { return s.hat, nil }

func (s stubChain) SpellEta(context.Context, common.Address) (uint64, error) { return 0, nil }

func (s stubChain) SpellDone(context.Context, common.Address) (bool, error) { return false, nil }

type stubSubmitter struct{}

func (stubSubmitter) SubmitSchedule(context.Context, common.Address) (*web3.Receipt, error) {
	return nil, nil
}

func (stubSubmitter) SubmitCast(context.Context, common.Address) (*web3.Receipt, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hat := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chain := stubChain{hat: hat}

	backend := state.NewMemoryBackend()
	if err := backend.Save(context.Background(), state.Snapshot{
		Checkpoint: state.Checkpoint{LastBlockChecked: 42},
		Leader:     state.LeaderRecord{Address: hat, Eta: 1700000000, Done: false},
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	store, _, err := state.Open(context.Background(), backend, chain)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}

	kp := keeper.New("testnet", chain, stubSubmitter{}, store)
	return NewServer(":0", kp)
}

func TestHandleStatus(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got keeper.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Network != "testnet" {
		t.Fatalf("unexpected network: got %q want %q", got.Network, "testnet")
	}
	if got.LastBlockChecked != 42 {
		t.Fatalf("unexpected checkpoint: got %d want 42", got.LastBlockChecked)
	}
	if got.Leader.Eta != 1700000000 {
		t.Fatalf("unexpected leader eta: got %d", got.Leader.Eta)
	}
}

func TestHandleStatusErrors(t *testing.T) {
	t.Run("invalid method", func(t *testing.T) {
		server := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
		rec := httptest.NewRecorder()

		server.handleStatus(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("keeper missing", func(t *testing.T) {
		server := NewServer(":0", nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		rec := httptest.NewRecorder()

		server.handleStatus(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

func TestHandleHealthReportsStoppedKeeper(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.handleHealth(rec, req)

	// keeper 尚未进入区块循环，健康检查应报告不可用。
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}
