// Package web3 houses the blockchain boundary of the keeper: the read-only
// ChainView and the transaction Submitter contracts, receipt types shared by
// both, and the YAML chain definition loader. Concrete go-ethereum backed
// implementations live in the ethereum subpackage so the keeper core can be
// tested against fakes.
package web3
