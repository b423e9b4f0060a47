package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"ChiefKeeper-Chain/internal/web3"
	"ChiefKeeper-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// SubmitterConfig 描述构造交易提交器所需的参数。
type SubmitterConfig struct {
	KeystoreFile     string
	PassphraseFile   string
	GasTipMultiplier float64
	GasMaximumGwei   int64
	TxTimeout        time.Duration
}

// receiptBackend 是等待回执所需的最小后端能力。
type receiptBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// TxSubmitter implements the web3.Submitter contract over a keyed transactor.
// Gas strategy: node-suggested tip scaled by a multiplier, fee cap bounded by
// a configured maximum.
type TxSubmitter struct {
	backend    receiptBackend
	auth       *bind.TransactOpts
	from       common.Address
	tipScale   float64
	gasMaximum *big.Int
	txTimeout  time.Duration
	log        *slog.Logger
	network    string
}

var _ web3.Submitter = (*TxSubmitter)(nil)

// NewSubmitter 从 keystore 文件构造交易提交器。
func NewSubmitter(ctx context.Context, client *Client, cfg SubmitterConfig) (*TxSubmitter, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	backend, ok := client.backend.(receiptBackend)
	if !ok {
		return nil, errors.New("当前客户端不支持交易回执查询")
	}

	keyJSON, err := os.ReadFile(cfg.KeystoreFile)
	if err != nil {
		return nil, fmt.Errorf("读取 keystore 文件失败: %w", err)
	}
	passphrase, err := os.ReadFile(cfg.PassphraseFile)
	if err != nil {
		return nil, fmt.Errorf("读取密码文件失败: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, strings.TrimSpace(string(passphrase)))
	if err != nil {
		return nil, fmt.Errorf("解密 keystore 失败: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("构造交易签名器失败: %w", err)
	}

	return newSubmitter(backend, auth, client.name, cfg), nil
}

// NewSimulatedSubmitter 基于仿真后端构造提交器，用于测试。
func NewSimulatedSubmitter(backend *backends.SimulatedBackend, auth *bind.TransactOpts, cfg SubmitterConfig) (*TxSubmitter, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	return newSubmitter(backend, auth, "simulated", cfg), nil
}

func newSubmitter(backend receiptBackend, auth *bind.TransactOpts, network string, cfg SubmitterConfig) *TxSubmitter {
	tipScale := cfg.GasTipMultiplier
	if tipScale <= 0 {
		tipScale = 1.1
	}
	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 2 * time.Minute
	}
	var gasMaximum *big.Int
	if cfg.GasMaximumGwei > 0 {
		gasMaximum = new(big.Int).Mul(big.NewInt(cfg.GasMaximumGwei), big.NewInt(1_000_000_000))
	}
	return &TxSubmitter{
		backend:    backend,
		auth:       auth,
		from:       auth.From,
		tipScale:   tipScale,
		gasMaximum: gasMaximum,
		txTimeout:  txTimeout,
		log:        logger.Named("submitter"),
		network:    network,
	}
}

// From 返回提交交易使用的账户地址。
func (s *TxSubmitter) From() common.Address { return s.from }

// SubmitSchedule 提交 schedule 交易。
func (s *TxSubmitter) SubmitSchedule(ctx context.Context, spell common.Address) (*web3.Receipt, error) {
	return s.submit(ctx, spell, "schedule")
}

// SubmitCast 提交 cast 交易。
func (s *TxSubmitter) SubmitCast(ctx context.Context, spell common.Address) (*web3.Receipt, error) {
	return s.submit(ctx, spell, "cast")
}

func (s *TxSubmitter) submit(ctx context.Context, spell common.Address, method string) (*web3.Receipt, error) {
	attemptID := uuid.NewString()

	opts := *s.auth
	opts.Context = ctx
	if err := s.applyGasStrategy(ctx, &opts); err != nil {
		return nil, err
	}

	bound := bind.NewBoundContract(spell, spellABI, s.backend, s.backend, s.backend)
	tx, err := bound.Transact(&opts, method)
	if err != nil {
		return nil, fmt.Errorf("发送 %s 交易失败: %w", method, err)
	}

	logger.Audit().Info("交易已提交",
		slog.String("attempt_id", attemptID),
		slog.String("network", s.network),
		slog.String("method", method),
		slog.String("spell", spell.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	if sim, ok := s.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}

	receipt := s.waitReceipt(ctx, tx)
	logger.Audit().Info("交易观测结果",
		slog.String("attempt_id", attemptID),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("status", string(receipt.Status)),
	)
	return receipt, nil
}

// applyGasStrategy 按节点建议值加乘数设定小费，并对总价封顶。
func (s *TxSubmitter) applyGasStrategy(ctx context.Context, opts *bind.TransactOpts) error {
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("获取建议小费失败: %w", err)
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(tip), big.NewFloat(s.tipScale))
	tip, _ = scaled.Int(nil)

	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	}
	if s.gasMaximum != nil && feeCap.Cmp(s.gasMaximum) > 0 {
		feeCap = new(big.Int).Set(s.gasMaximum)
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
	}
	opts.GasTipCap = tip
	opts.GasFeeCap = feeCap
	return nil
}

// waitReceipt 在超时时间内等待确认；超时不视为错误，返回 unknown 状态，
// 由调用方按歧义回执处理。
func (s *TxSubmitter) waitReceipt(ctx context.Context, tx *coretypes.Transaction) *web3.Receipt {
	waitCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	mined, err := bind.WaitMined(waitCtx, s.backend, tx)
	if err != nil {
		s.log.Warn("未在超时时间内观测到交易确认",
			slog.String("tx_hash", tx.Hash().Hex()),
			slog.String("error", err.Error()),
		)
		return &web3.Receipt{TxHash: tx.Hash(), Status: web3.ReceiptUnknown}
	}

	status := web3.ReceiptReverted
	if mined.Status == coretypes.ReceiptStatusSuccessful {
		status = web3.ReceiptConfirmed
	}
	return &web3.Receipt{
		TxHash:      tx.Hash(),
		Status:      status,
		BlockNumber: mined.BlockNumber.Uint64(),
		GasUsed:     mined.GasUsed,
	}
}
