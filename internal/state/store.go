package state

import (
	"context"
	"sync"

	xerrors "ChiefKeeper-Chain/internal/errors"
	"ChiefKeeper-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// LeaderRecord 缓存 keeper 对当前 hat 的认知：地址、计划执行时间、是否
// 已执行。Done 一旦为 true 即为终态；地址变化时必须整体替换记录。
type LeaderRecord struct {
	Address common.Address `json:"address"`
	Eta     uint64         `json:"eta"`
	Done    bool           `json:"done"`
}

// Checkpoint 记录最近一次处理完成的区块高度，单调不减。
type Checkpoint struct {
	LastBlockChecked uint64 `json:"last_block_checked"`
}

// Snapshot 是持久化的完整状态：两条命名记录。
type Snapshot struct {
	Checkpoint Checkpoint   `json:"checkpoint"`
	Leader     LeaderRecord `json:"leader"`
}

// Backend 定义持久化 Snapshot 所需的最小能力。Load 在状态不存在时返回
// (nil, nil)；状态存在但不可读必须返回错误，调用方会将其视为致命错误。
// Save 返回前必须保证数据已落盘。
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Store 是 keeper 对本地状态缓存的唯一入口。所有写操作先更新内存视图，
// 再整体写穿到后端；写失败时内存视图回滚，避免缓存与持久化分叉。
type Store struct {
	mu      sync.RWMutex
	backend Backend
	snap    Snapshot
}

// 初始化状态缓存时返回的人类可读说明。
const (
	StatusExisting    = "状态缓存已存在且可读"
	StatusInitialized = "未找到状态缓存，已从链上快照初始化"
)

// Open 加载指定网络的持久化状态；不存在时从链上当前状态初始化。
// 返回的字符串说明走了哪条路径。已存在但不可读的状态是致命错误：
// 重新初始化会丢失“哪些动作已经提交过”的记忆。
func Open(ctx context.Context, backend Backend, view web3.ChainView) (*Store, string, error) {
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeStateStoreFailure, err,
			"状态缓存存在但不可读，拒绝重新初始化")
	}
	if snap != nil {
		return &Store{backend: backend, snap: *snap}, StatusExisting, nil
	}

	seeded, err := seedFromChain(ctx, view)
	if err != nil {
		return nil, "", err
	}
	if err := backend.Save(ctx, seeded); err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "写入初始状态失败")
	}
	return &Store{backend: backend, snap: seeded}, StatusInitialized, nil
}

// seedFromChain 从链上当前状态构造初始快照。只取当前 hat，不回放历史。
func seedFromChain(ctx context.Context, view web3.ChainView) (Snapshot, error) {
	blockNumber, err := view.CurrentBlockNumber(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "获取初始区块高度失败")
	}
	hat, err := view.HatAddress(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "获取初始 hat 失败")
	}

	leader := LeaderRecord{Address: hat, Eta: 0, Done: true}
	if hat != web3.ZeroAddress {
		eta, err := view.SpellEta(ctx, hat)
		if err != nil {
			return Snapshot{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "获取初始 eta 失败")
		}
		done, err := view.SpellDone(ctx, hat)
		if err != nil {
			return Snapshot{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "获取初始 done 失败")
		}
		leader.Eta = eta
		leader.Done = done
	}

	return Snapshot{
		Checkpoint: Checkpoint{LastBlockChecked: blockNumber},
		Leader:     leader,
	}, nil
}

// Leader 返回缓存的 hat 记录。
func (s *Store) Leader() LeaderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Leader
}

// Checkpoint 返回缓存的检查点。
func (s *Store) Checkpoint() Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Checkpoint
}

// ReplaceLeader 整体覆盖 hat 记录，用于地址变化时丢弃旧的调度状态。
func (s *Store) ReplaceLeader(ctx context.Context, leader LeaderRecord) error {
	return s.mutate(ctx, func(snap *Snapshot) {
		snap.Leader = leader
	})
}

// SetLeaderEta 仅更新 eta，保留其余字段。
func (s *Store) SetLeaderEta(ctx context.Context, eta uint64) error {
	return s.mutate(ctx, func(snap *Snapshot) {
		snap.Leader.Eta = eta
	})
}

// SetLeaderDone 仅更新 done，保留其余字段。
func (s *Store) SetLeaderDone(ctx context.Context, done bool) error {
	return s.mutate(ctx, func(snap *Snapshot) {
		snap.Leader.Done = done
	})
}

// AdvanceCheckpoint 推进检查点；高度只增不减。
func (s *Store) AdvanceCheckpoint(ctx context.Context, blockNumber uint64) error {
	return s.mutate(ctx, func(snap *Snapshot) {
		if blockNumber > snap.Checkpoint.LastBlockChecked {
			snap.Checkpoint.LastBlockChecked = blockNumber
		}
	})
}

// Close 关闭底层后端。
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) mutate(ctx context.Context, apply func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snap
	apply(&s.snap)
	if err := s.backend.Save(ctx, s.snap); err != nil {
		s.snap = previous
		return xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "持久化状态失败")
	}
	return nil
}
