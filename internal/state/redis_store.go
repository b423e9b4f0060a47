package state

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	xerrors "ChiefKeeper-Chain/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisBackendConfig 描述 Redis 状态存储的连接参数。
type RedisBackendConfig struct {
	Address  string
	Password string
	DB       int
	Network  string
}

// RedisBackend 将状态以 JSON 值保存在按网络命名的键下。
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend 创建 Redis 后端实例。
func NewRedisBackend(cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	if cfg.Network == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "network 不能为空")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "连接 Redis 失败")
	}
	return &RedisBackend{
		client: client,
		key:    fmt.Sprintf("chiefkeeper:state:%s", cfg.Network),
	}, nil
}

// Load 实现 Backend 接口。键不存在返回 (nil, nil)。
func (b *RedisBackend) Load(ctx context.Context) (*Snapshot, error) {
	content, err := b.client.Get(ctx, b.key).Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "读取状态键失败")
	}

	var snap Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "解析状态键失败")
	}
	return &snap, nil
}

// Save 实现 Backend 接口。
func (b *RedisBackend) Save(ctx context.Context, snap Snapshot) error {
	content, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "序列化状态失败")
	}
	if err := b.client.Set(ctx, b.key, content, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "写入状态键失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
