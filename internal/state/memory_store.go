package state

import (
	"context"
	"sync"
)

// MemoryBackend 以内存方式保存状态，主要用于测试。
type MemoryBackend struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int

	// LoadErr/SaveErr 在测试中模拟损坏的后端。
	LoadErr error
	SaveErr error
}

// NewMemoryBackend 创建 MemoryBackend。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load 实现 Backend 接口。
func (m *MemoryBackend) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.snap == nil {
		return nil, nil
	}
	clone := *m.snap
	return &clone, nil
}

// Save 实现 Backend 接口。
func (m *MemoryBackend) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	clone := snap
	m.snap = &clone
	m.saves++
	return nil
}

// Saves 返回 Save 被调用的次数。
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close 实现 Backend 接口。
func (m *MemoryBackend) Close() error { return nil }
