package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

// 与 chief 无关的最小合约，仅用于在仿真链上产生一段已部署的代码。
const (
	simpleContractABI = "[]"
	simpleContractBin = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
)

func newSimulatedChain(t *testing.T) (*bind.TransactOpts, *backends.SimulatedBackend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(1337)
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}
	auth.GasLimit = 1_000_000

	alloc := core.GenesisAlloc{
		auth.From: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	t.Cleanup(func() { _ = backend.Close() })
	return auth, backend
}

func TestClientChainReads(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	auth, backend := newSimulatedChain(t)

	contractAddr, _, _, err := bind.DeployContract(auth, mustParseABI(t, simpleContractABI), common.FromHex(simpleContractBin), backend)
	if err != nil {
		t.Fatalf("deploy contract: %v", err)
	}
	backend.Commit()

	chief := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	client, err := NewSimulatedClient("simulated", chief, backend)
	if err != nil {
		t.Fatalf("new simulated client: %v", err)
	}
	t.Cleanup(client.Close)

	number, err := client.CurrentBlockNumber(ctx)
	if err != nil {
		t.Fatalf("current block number: %v", err)
	}
	if number == 0 {
		t.Fatal("expected block number to advance after deployment")
	}

	ts, err := client.BlockTimestamp(ctx, number)
	if err != nil {
		t.Fatalf("block timestamp: %v", err)
	}
	if ts == 0 {
		t.Fatal("expected non-zero block timestamp")
	}

	hasCode, err := client.HasCode(ctx, contractAddr)
	if err != nil {
		t.Fatalf("has code: %v", err)
	}
	if !hasCode {
		t.Fatal("expected deployed contract to have code")
	}

	hasCode, err = client.HasCode(ctx, auth.From)
	if err != nil {
		t.Fatalf("has code (EOA): %v", err)
	}
	if hasCode {
		t.Fatal("expected EOA to have no code")
	}
}

func TestClientTimestampMatchesHeader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, backend := newSimulatedChain(t)
	backend.Commit()
	backend.Commit()

	client, err := NewSimulatedClient("simulated", common.HexToAddress("0x01"), backend)
	if err != nil {
		t.Fatalf("new simulated client: %v", err)
	}

	number, err := client.CurrentBlockNumber(ctx)
	if err != nil {
		t.Fatalf("current block number: %v", err)
	}
	head, err := backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		t.Fatalf("header by number: %v", err)
	}
	ts, err := client.BlockTimestamp(ctx, number)
	if err != nil {
		t.Fatalf("block timestamp: %v", err)
	}
	if ts != head.Time {
		t.Fatalf("timestamp mismatch: got %d want %d", ts, head.Time)
	}
}

func mustParseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}
