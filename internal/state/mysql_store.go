package state

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "ChiefKeeper-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend 使用 MySQL 记录状态，每个网络一行。
type MySQLBackend struct {
	db      *sql.DB
	network string
}

// NewMySQLBackend 创建 MySQL 后端并确保表结构存在。
func NewMySQLBackend(dsn, network string) (*MySQLBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	if network == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "network 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "无法连接到 MySQL")
	}

	backend := &MySQLBackend{db: db, network: network}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *MySQLBackend) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS keeper_state (
        network VARCHAR(64) PRIMARY KEY,
        last_block_checked BIGINT UNSIGNED NOT NULL DEFAULT 0,
        hat_address CHAR(42) NOT NULL DEFAULT '',
        hat_eta BIGINT UNSIGNED NOT NULL DEFAULT 0,
        hat_done TINYINT(1) NOT NULL DEFAULT 0,
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	if _, err := b.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "初始化表结构失败")
	}
	return nil
}

// Load 实现 Backend 接口。行不存在返回 (nil, nil)。
func (b *MySQLBackend) Load(ctx context.Context) (*Snapshot, error) {
	const query = `SELECT last_block_checked, hat_address, hat_eta, hat_done
        FROM keeper_state WHERE network = ?`

	var (
		lastBlock uint64
		hatHex    string
		hatEta    uint64
		hatDone   bool
	)
	err := b.db.QueryRowContext(ctx, query, b.network).Scan(&lastBlock, &hatHex, &hatEta, &hatDone)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "读取状态行失败")
	}

	if !common.IsHexAddress(hatHex) && hatHex != "" {
		return nil, xerrors.New(xerrors.CodeStateStoreFailure, "状态行中的 hat 地址非法")
	}
	return &Snapshot{
		Checkpoint: Checkpoint{LastBlockChecked: lastBlock},
		Leader: LeaderRecord{
			Address: common.HexToAddress(hatHex),
			Eta:     hatEta,
			Done:    hatDone,
		},
	}, nil
}

// Save 实现 Backend 接口，整行覆盖写。
func (b *MySQLBackend) Save(ctx context.Context, snap Snapshot) error {
	const upsert = `INSERT INTO keeper_state (network, last_block_checked, hat_address, hat_eta, hat_done)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            last_block_checked = VALUES(last_block_checked),
            hat_address = VALUES(hat_address),
            hat_eta = VALUES(hat_eta),
            hat_done = VALUES(hat_done)`

	_, err := b.db.ExecContext(ctx, upsert,
		b.network,
		snap.Checkpoint.LastBlockChecked,
		snap.Leader.Address.Hex(),
		snap.Leader.Eta,
		snap.Leader.Done,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStateStoreFailure, err, "写入状态行失败")
	}
	return nil
}

// Close 关闭数据库连接。
func (b *MySQLBackend) Close() error {
	return b.db.Close()
}
