package state

import (
	"context"
	"errors"
	"testing"

	"ChiefKeeper-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type fakeView struct {
	blockNumber uint64
	hat         common.Address
	etas        map[common.Address]uint64
	dones       map[common.Address]bool
	hatErr      error
}

func (f *fakeView) CurrentBlockNumber(context.Context) (uint64, error) {
	return f.blockNumber, nil
}

func (f *fakeView) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return 0, nil
}

func (f *fakeView) HasCode(context.Context, common.Address) (bool, error) {
	return true, nil
}

func (f *fakeView) HatAddress(context.Context) (common.Address, error) {
	if f.hatErr != nil {
		return common.Address{}, f.hatErr
	}
	return f.hat, nil
}

func (f *fakeView) SpellEta(_ context.Context, spell common.Address) (uint64, error) {
	return f.etas[spell], nil
}

func (f *fakeView) SpellDone(_ context.Context, spell common.Address) (bool, error) {
	return f.dones[spell], nil
}

var addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestOpenBootstrapsFromChainSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	view := &fakeView{
		blockNumber: 1200,
		hat:         addrA,
		etas:        map[common.Address]uint64{},
		dones:       map[common.Address]bool{},
	}
	store, status, err := Open(ctx, NewMemoryBackend(), view)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if status != StatusInitialized {
		t.Fatalf("unexpected status %q", status)
	}
	if got := store.Checkpoint().LastBlockChecked; got != 1200 {
		t.Fatalf("checkpoint = %d, want 1200", got)
	}
	leader := store.Leader()
	if leader.Address != addrA || leader.Eta != 0 || leader.Done {
		t.Fatalf("unexpected leader record %+v", leader)
	}
}

func TestOpenBootstrapWithZeroHat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	view := &fakeView{blockNumber: 7}
	store, _, err := Open(ctx, NewMemoryBackend(), view)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	leader := store.Leader()
	if leader.Address != web3.ZeroAddress {
		t.Fatalf("expected zero hat, got %s", leader.Address.Hex())
	}
	if !leader.Done {
		t.Fatal("zero hat record must be done so no action is ever attempted")
	}
}

func TestOpenPrefersExistingState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := NewMemoryBackend()
	persisted := Snapshot{
		Checkpoint: Checkpoint{LastBlockChecked: 500},
		Leader:     LeaderRecord{Address: addrA, Eta: 99, Done: false},
	}
	if err := backend.Save(ctx, persisted); err != nil {
		t.Fatalf("seed backend: %v", err)
	}

	// 链上视图返回完全不同的状态；已存在的缓存必须胜出。
	view := &fakeView{blockNumber: 9999}
	store, status, err := Open(ctx, backend, view)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if status != StatusExisting {
		t.Fatalf("unexpected status %q", status)
	}
	if store.Checkpoint().LastBlockChecked != 500 {
		t.Fatalf("existing checkpoint lost: %+v", store.Checkpoint())
	}
	if store.Leader().Eta != 99 {
		t.Fatalf("existing leader lost: %+v", store.Leader())
	}
}

func TestOpenFailsOnUnreadableState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := NewMemoryBackend()
	backend.LoadErr = errors.New("corrupt")
	if _, _, err := Open(ctx, backend, &fakeView{}); err == nil {
		t.Fatal("expected fatal error for unreadable existing state")
	}
}

func TestPartialUpdatesPreserveOtherFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, _, err := Open(ctx, NewMemoryBackend(), &fakeView{blockNumber: 1, hat: addrA,
		etas: map[common.Address]uint64{}, dones: map[common.Address]bool{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := store.SetLeaderEta(ctx, 12345); err != nil {
		t.Fatalf("set eta: %v", err)
	}
	leader := store.Leader()
	if leader.Address != addrA || leader.Eta != 12345 || leader.Done {
		t.Fatalf("eta update clobbered fields: %+v", leader)
	}

	if err := store.SetLeaderDone(ctx, true); err != nil {
		t.Fatalf("set done: %v", err)
	}
	leader = store.Leader()
	if leader.Eta != 12345 || !leader.Done {
		t.Fatalf("done update clobbered fields: %+v", leader)
	}
}

func TestCheckpointIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, _, err := Open(ctx, NewMemoryBackend(), &fakeView{blockNumber: 100})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.AdvanceCheckpoint(ctx, 150); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.AdvanceCheckpoint(ctx, 120); err != nil {
		t.Fatalf("advance backwards: %v", err)
	}
	if got := store.Checkpoint().LastBlockChecked; got != 150 {
		t.Fatalf("checkpoint regressed to %d", got)
	}
}

func TestMutationRollsBackOnSaveFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := NewMemoryBackend()
	store, _, err := Open(ctx, backend, &fakeView{blockNumber: 1, hat: addrA,
		etas: map[common.Address]uint64{}, dones: map[common.Address]bool{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	backend.SaveErr = errors.New("disk full")
	if err := store.SetLeaderEta(ctx, 777); err == nil {
		t.Fatal("expected save failure to surface")
	}
	if store.Leader().Eta != 0 {
		t.Fatalf("in-memory view diverged from backend: %+v", store.Leader())
	}
}
