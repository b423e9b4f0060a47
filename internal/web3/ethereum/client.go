package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"ChiefKeeper-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethevent "github.com/ethereum/go-ethereum/event"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM client for one network.
type Config struct {
	Name  string
	RPC   string
	WSURL string
	Chief common.Address
	Notes string
}

// headSubscriber mirrors the subset of methods required for new-head
// subscriptions.
type headSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *coretypes.Header) (gethcore.Subscription, error)
}

// Client implements the web3.ChainView contract for EVM chains.
type Client struct {
	name       string
	notes      string
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	headClient headSubscriber
	backend    bind.ContractBackend
	chief      common.Address
	chiefBound *bind.BoundContract
}

var _ web3.ChainView = (*Client)(nil)

// NewClient dials the configured RPC endpoints and returns a ready-to-use
// client bound to the chief contract.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}

	rpcURL := strings.TrimSpace(cfg.RPC)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if cfg.Chief == web3.ZeroAddress {
		return nil, errors.New("未配置 chief 合约地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	var headClient headSubscriber
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			headClient = ethclient.NewClient(wsRPC)
		}
	}

	client := &Client{
		name:       cfg.Name,
		notes:      cfg.Notes,
		rpcClient:  rpcClient,
		eth:        eth,
		headClient: headClient,
		backend:    eth,
		chief:      cfg.Chief,
	}
	client.chiefBound = bind.NewBoundContract(cfg.Chief, chiefABI, eth, eth, eth)
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum backend for testing purposes.
func NewSimulatedClient(name string, chief common.Address, backend bind.ContractBackend) (*Client, error) {
	if err := loadABIs(); err != nil {
		return nil, err
	}
	client := &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend,
		chief:   chief,
	}
	if hs, ok := backend.(headSubscriber); ok {
		client.headClient = hs
	}
	client.chiefBound = bind.NewBoundContract(chief, chiefABI, backend, backend, backend)
	return client, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.headClient != nil {
		if hc, ok := c.headClient.(*ethclient.Client); ok {
			hc.Close()
		}
		c.headClient = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Name 返回链名称。
func (c *Client) Name() string { return c.name }

// ChiefAddress 返回被监控的 chief 合约地址。
func (c *Client) ChiefAddress() common.Address { return c.chief }

// ChainID 查询链 ID，用于构造交易签名器。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c.eth == nil {
		return nil, errors.New("当前客户端不支持链 ID 查询")
	}
	return c.eth.ChainID(ctx)
}

// Balance 查询账户余额，用于启动时的部署检查。
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, ok := c.backend.(interface {
		BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error)
	})
	if !ok {
		return nil, errors.New("当前客户端不支持余额查询")
	}
	return backend.BalanceAt(ctx, account, nil)
}

// CurrentBlockNumber 返回最新区块高度。
func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块失败: %w", err)
	}
	return header.Number.Uint64(), nil
}

// BlockTimestamp 返回指定区块的时间戳。
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("获取区块 %d 失败: %w", number, err)
	}
	return header.Time, nil
}

// HasCode 判断地址上是否部署了合约代码。
func (c *Client) HasCode(ctx context.Context, address common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("查询合约代码失败: %w", err)
	}
	return len(code) > 0, nil
}

// HatAddress 读取 chief 合约当前的 hat 地址。
func (c *Client) HatAddress(ctx context.Context) (common.Address, error) {
	var out []any
	if err := c.chiefBound.Call(&bind.CallOpts{Context: ctx}, &out, "hat"); err != nil {
		return common.Address{}, fmt.Errorf("读取 hat 失败: %w", err)
	}
	hat, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("hat 返回值类型异常")
	}
	return hat, nil
}

// SpellEta 读取 spell 的计划执行时间，未计划时返回 0。
func (c *Client) SpellEta(ctx context.Context, spell common.Address) (uint64, error) {
	bound := bind.NewBoundContract(spell, spellABI, c.backend, c.backend, c.backend)
	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "eta"); err != nil {
		return 0, fmt.Errorf("读取 spell eta 失败: %w", err)
	}
	eta, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("eta 返回值类型异常")
	}
	return eta.Uint64(), nil
}

// SpellDone 读取 spell 是否已经执行完毕。
func (c *Client) SpellDone(ctx context.Context, spell common.Address) (bool, error) {
	bound := bind.NewBoundContract(spell, spellABI, c.backend, c.backend, c.backend)
	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "done"); err != nil {
		return false, fmt.Errorf("读取 spell done 失败: %w", err)
	}
	done, ok := out[0].(bool)
	if !ok {
		return false, errors.New("done 返回值类型异常")
	}
	return done, nil
}

// SubscribeNewHeads attaches a new-head subscription when a websocket
// endpoint is available. Callers fall back to polling otherwise.
func (c *Client) SubscribeNewHeads(ctx context.Context) (<-chan *coretypes.Header, gethevent.Subscription, error) {
	if c.headClient == nil {
		return nil, nil, errors.New("当前客户端不支持区块头订阅")
	}
	heads := make(chan *coretypes.Header, 16)
	sub, err := c.headClient.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, nil, fmt.Errorf("订阅新区块失败: %w", err)
	}
	return heads, sub, nil
}
