package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint plus the governance
// contract deployed on it.
type ChainDefinition struct {
	RPCURL       string `yaml:"rpc_url"`
	WSURL        string `yaml:"ws_url"`
	ChiefAddress string `yaml:"chief_address"`
	Description  string `yaml:"description"`
}

// Chief 返回解析后的 chief 合约地址。
func (d ChainDefinition) Chief() (common.Address, error) {
	addr := strings.TrimSpace(d.ChiefAddress)
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("非法的 chief 合约地址: %q", d.ChiefAddress)
	}
	return common.HexToAddress(addr), nil
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Definition 按名称查找链定义。
func (d ChainDefinitions) Definition(name string) (ChainDefinition, error) {
	def, ok := d.Chains[name]
	if !ok {
		return ChainDefinition{}, fmt.Errorf("链 %s 未在配置中找到", name)
	}
	return def, nil
}
