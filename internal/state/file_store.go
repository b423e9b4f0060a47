package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	xerrors "ChiefKeeper-Chain/internal/errors"
)

// FileBackend 将状态以 JSON 文本保存为每个网络一个文件，便于人工检查。
type FileBackend struct {
	path string
}

// NewFileBackend 创建文件后端，文件名按网络标识区分。
func NewFileBackend(dir, network string) (*FileBackend, error) {
	if network == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "network 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建状态目录失败: %w", err)
	}
	return &FileBackend{
		path: filepath.Join(dir, fmt.Sprintf("state_%s.json", network)),
	}, nil
}

// Path 返回状态文件路径。
func (b *FileBackend) Path() string { return b.path }

// Load 读取状态文件。文件不存在返回 (nil, nil)；存在但无法解析返回错误。
func (b *FileBackend) Load(_ context.Context) (*Snapshot, error) {
	content, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取状态文件失败: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("解析状态文件 %s 失败: %w", b.path, err)
	}
	return &snap, nil
}

// Save 先写临时文件并 fsync，再原子替换，保证崩溃后要么是旧状态要么是
// 新状态，不会出现半写。
func (b *FileBackend) Save(_ context.Context, snap Snapshot) error {
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时状态文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时状态文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("刷盘失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时状态文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

// Close 文件后端无持久连接。
func (b *FileBackend) Close() error { return nil }
