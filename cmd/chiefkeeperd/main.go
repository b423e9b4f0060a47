package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ChiefKeeper-Chain/internal/api"
	"ChiefKeeper-Chain/internal/config"
	"ChiefKeeper-Chain/internal/keeper"
	"ChiefKeeper-Chain/internal/observability/alerting"
	"ChiefKeeper-Chain/internal/state"
	"ChiefKeeper-Chain/internal/web3"
	"ChiefKeeper-Chain/internal/web3/ethereum"
	"ChiefKeeper-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// main 是 chief keeper 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chiefkeeperd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHIEFKEEPER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chiefkeeper.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 加载链定义并建立客户端。
	definitions, err := web3.LoadChainDefinitions(cfg.Chain.DefinitionsPath)
	if err != nil {
		return err
	}
	definition, err := definitions.Definition(cfg.Chain.Name)
	if err != nil {
		return err
	}
	chief, err := definition.Chief()
	if err != nil {
		return err
	}

	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:  cfg.Chain.Name,
		RPC:   definition.RPCURL,
		WSURL: definition.WSURL,
		Chief: chief,
		Notes: definition.Description,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	submitter, err := ethereum.NewSubmitter(ctx, client, ethereum.SubmitterConfig{
		KeystoreFile:     cfg.Account.KeystoreFile,
		PassphraseFile:   cfg.Account.PassphraseFile,
		GasTipMultiplier: cfg.Keeper.GasTipMultiplier,
		GasMaximumGwei:   cfg.Keeper.GasMaximumGwei,
		TxTimeout:        cfg.Keeper.TxTimeout(),
	})
	if err != nil {
		return err
	}

	// 部署前检查：链可达、chief 合约存在、签名账户有余额。
	if err := startupCheck(ctx, client, submitter, chief); err != nil {
		return err
	}

	backend, err := openStateBackend(cfg)
	if err != nil {
		return err
	}

	store, status, err := state.Open(ctx, backend, client)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	logger.L().Info("状态缓存就绪",
		slog.String("network", cfg.Network),
		slog.String("status", status),
		slog.Uint64("last_block_checked", store.Checkpoint().LastBlockChecked),
	)

	dispatcher, closeAlerts, err := buildAlertDispatcher(cfg)
	if err != nil {
		return err
	}
	defer closeAlerts()

	kp := keeper.New(cfg.Network, client, submitter, store,
		keeper.WithMaxErrors(cfg.Keeper.MaxErrors),
		keeper.WithPollInterval(cfg.Keeper.PollInterval()),
		keeper.WithCallTimeout(cfg.Keeper.CallTimeout()),
		keeper.WithHeadSource(client),
		keeper.WithAlertDispatcher(dispatcher),
	)

	if cfg.Server.Address != "" {
		server := api.NewServer(cfg.Server.Address, kp)
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("状态服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	return kp.Run(ctx)
}

// startupCheck 在进入区块循环前验证运行环境。
func startupCheck(ctx context.Context, client *ethereum.Client, submitter *ethereum.TxSubmitter, chief common.Address) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("读取链 ID 失败: %w", err)
	}

	deployed, err := client.HasCode(ctx, client.ChiefAddress())
	if err != nil {
		return fmt.Errorf("检查 chief 合约失败: %w", err)
	}
	if !deployed {
		return fmt.Errorf("地址 %s 上没有 chief 合约代码", chief.Hex())
	}

	balance, err := client.Balance(ctx, submitter.From())
	if err != nil {
		return fmt.Errorf("读取签名账户余额失败: %w", err)
	}

	logger.L().Info("部署前检查通过",
		slog.String("chain_id", chainID.String()),
		slog.String("chief", chief.Hex()),
		slog.String("account", submitter.From().Hex()),
		slog.String("balance_wei", balance.String()),
	)
	return nil
}

// openStateBackend 按配置驱动选择状态缓存后端。
func openStateBackend(cfg *config.Config) (state.Backend, error) {
	store := cfg.Storage.StateStore
	switch store.Driver {
	case "", "file":
		dir := store.Dir
		if dir == "" {
			dir = cfg.Runtime.DataDir
		}
		return state.NewFileBackend(dir, cfg.Network)
	case "mysql":
		return state.NewMySQLBackend(store.DSN, cfg.Network)
	case "redis":
		return state.NewRedisBackend(state.RedisBackendConfig{
			Address:  store.Redis.Address,
			Password: store.Redis.Password,
			DB:       store.Redis.DB,
			Network:  cfg.Network,
		})
	default:
		return nil, fmt.Errorf("未知的状态存储驱动: %s", store.Driver)
	}
}

// buildAlertDispatcher 组装日志通道，按需叠加 AMQP 通道。
func buildAlertDispatcher(cfg *config.Config) (alerting.Dispatcher, func(), error) {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	cleanup := func() {}

	if cfg.Alert.AMQP.Enabled {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:      cfg.Alert.AMQP.URL,
			Exchange: cfg.Alert.AMQP.Exchange,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, amqpNotifier)
		cleanup = func() {
			if err := amqpNotifier.Close(); err != nil {
				logger.L().Warn("关闭告警通道失败", slog.String("error", err.Error()))
			}
		}
	}

	return alerting.NewFanout(notifiers...), cleanup, nil
}
