package ethereum

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 最小化的合约 ABI：keeper 只依赖 chief 的 hat 查询，以及 spell 的
// eta/done 查询与 schedule/cast 两个治理调用。
const (
	chiefABIJSON = `[
		{"inputs":[],"name":"hat","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
	]`

	spellABIJSON = `[
		{"inputs":[],"name":"eta","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"done","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"schedule","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[],"name":"cast","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`
)

var (
	abiOnce  sync.Once
	chiefABI abi.ABI
	spellABI abi.ABI
	abiErr   error
)

// loadABIs 解析内置 ABI，解析失败属于程序错误。
func loadABIs() error {
	abiOnce.Do(func() {
		chiefABI, abiErr = abi.JSON(strings.NewReader(chiefABIJSON))
		if abiErr != nil {
			return
		}
		spellABI, abiErr = abi.JSON(strings.NewReader(spellABIJSON))
	})
	return abiErr
}
