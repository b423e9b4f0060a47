package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 chief keeper 在启动阶段需要加载的核心配置。
type Config struct {
	Network string        `json:"network"`
	Chain   ChainConfig   `json:"chain"`
	Keeper  KeeperConfig  `json:"keeper"`
	Account AccountConfig `json:"account"`
	Storage StorageConfig `json:"storage"`
	Alert   AlertConfig   `json:"alert"`
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ChainConfig 指定链定义文件的位置以及本次运行使用的链名称。
type ChainConfig struct {
	DefinitionsPath string `json:"definitions_path"`
	Name            string `json:"name"`
}

// KeeperConfig 控制区块处理循环的行为。
type KeeperConfig struct {
	MaxErrors           int     `json:"max_errors"`
	PollIntervalSeconds int     `json:"poll_interval_seconds"`
	CallTimeoutSeconds  int     `json:"call_timeout_seconds"`
	TxTimeoutSeconds    int     `json:"tx_timeout_seconds"`
	GasTipMultiplier    float64 `json:"gas_tip_multiplier"`
	GasMaximumGwei      int64   `json:"gas_maximum_gwei"`
}

// PollInterval 返回轮询间隔。
func (k KeeperConfig) PollInterval() time.Duration {
	return time.Duration(k.PollIntervalSeconds) * time.Second
}

// CallTimeout 返回单次链上读调用的超时时间。
func (k KeeperConfig) CallTimeout() time.Duration {
	return time.Duration(k.CallTimeoutSeconds) * time.Second
}

// TxTimeout 返回等待交易确认的超时时间。
func (k KeeperConfig) TxTimeout() time.Duration {
	return time.Duration(k.TxTimeoutSeconds) * time.Second
}

// AccountConfig 描述签名账户的来源，密钥管理本身由 go-ethereum 完成。
type AccountConfig struct {
	KeystoreFile   string `json:"keystore_file"`
	PassphraseFile string `json:"passphrase_file"`
}

// StorageConfig 描述本地状态缓存的后端。
type StorageConfig struct {
	StateStore StateStoreConfig `json:"state_store"`
}

// StateStoreConfig 支持 file、mysql、redis 三种驱动。
type StateStoreConfig struct {
	Driver string           `json:"driver"`
	Dir    string           `json:"dir"`
	DSN    string           `json:"dsn"`
	Redis  RedisStoreConfig `json:"redis"`
}

// RedisStoreConfig 描述 Redis 状态存储的连接参数。
type RedisStoreConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AlertConfig 描述告警派发的渠道配置。
type AlertConfig struct {
	AMQP AMQPAlertConfig `json:"amqp"`
}

// AMQPAlertConfig 描述 RabbitMQ 告警通道。
type AMQPAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// ServerConfig 控制状态查询服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制日志输出与审计日志。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制链上提交审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Chain.DefinitionsPath == "" {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, "chain.yaml")
	} else if !filepath.IsAbs(c.Chain.DefinitionsPath) {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, c.Chain.DefinitionsPath)
	}

	if c.Keeper.MaxErrors <= 0 {
		c.Keeper.MaxErrors = 100
	}
	if c.Keeper.PollIntervalSeconds <= 0 {
		c.Keeper.PollIntervalSeconds = 13
	}
	if c.Keeper.CallTimeoutSeconds <= 0 {
		c.Keeper.CallTimeoutSeconds = 15
	}
	if c.Keeper.TxTimeoutSeconds <= 0 {
		c.Keeper.TxTimeoutSeconds = 120
	}
	if c.Keeper.GasTipMultiplier <= 0 {
		c.Keeper.GasTipMultiplier = 1.1
	}

	if c.Storage.StateStore.Driver == "" {
		c.Storage.StateStore.Driver = "file"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "..", "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Storage.StateStore.Dir == "" {
		c.Storage.StateStore.Dir = c.Runtime.DataDir
	} else if !filepath.IsAbs(c.Storage.StateStore.Dir) {
		c.Storage.StateStore.Dir = filepath.Join(baseDir, c.Storage.StateStore.Dir)
	}
}

// validate 检查必须由用户提供的字段。
func (c *Config) validate() error {
	if c.Network == "" {
		return errors.New("network 不能为空")
	}
	if c.Chain.Name == "" {
		c.Chain.Name = c.Network
	}
	switch c.Storage.StateStore.Driver {
	case "file", "mysql", "redis":
	default:
		return fmt.Errorf("未知的状态存储驱动: %s", c.Storage.StateStore.Driver)
	}
	return nil
}
