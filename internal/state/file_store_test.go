package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestFileBackendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend, err := NewFileBackend(t.TempDir(), "testnet")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected nil snapshot for missing file")
	}

	snap := Snapshot{
		Checkpoint: Checkpoint{LastBlockChecked: 42},
		Leader: LeaderRecord{
			Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Eta:     1700000000,
			Done:    false,
		},
	}
	if err := backend.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err = backend.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected snapshot after save")
	}
	if *loaded != snap {
		t.Fatalf("round trip mismatch: got %+v want %+v", *loaded, snap)
	}
}

func TestFileBackendRejectsCorruptFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	backend, err := NewFileBackend(dir, "testnet")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if err := os.WriteFile(backend.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := backend.Load(ctx); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestFileBackendKeysByNetwork(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mainnet, err := NewFileBackend(dir, "mainnet")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	testnet, err := NewFileBackend(dir, "testnet")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if mainnet.Path() == testnet.Path() {
		t.Fatal("expected separate files per network")
	}
	if filepath.Dir(mainnet.Path()) != dir {
		t.Fatalf("unexpected state dir %s", filepath.Dir(mainnet.Path()))
	}
}
