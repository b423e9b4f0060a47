// Package config provides configuration loading for the keeper daemon: a
// single JSON file selecting the network, the state-store driver, the alert
// channels and the logging behaviour, plus a pointer to the YAML chain
// definitions consumed by the web3 layer.
package config
