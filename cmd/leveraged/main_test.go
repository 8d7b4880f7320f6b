package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/config"
)

func TestNodeAddresses(t *testing.T) {
	cfg := config.Default().Leverage
	addrs, err := nodeAddresses(cfg)
	if err != nil {
		t.Fatalf("nodeAddresses: %v", err)
	}
	if addrs.Engine != common.HexToAddress(cfg.EngineAddress) {
		t.Fatalf("unexpected engine address %s", addrs.Engine.Hex())
	}
	if addrs.Owner == addrs.Engine {
		t.Fatalf("owner and engine must differ")
	}

	cfg.VaultAddress = "vault"
	if _, err := nodeAddresses(cfg); err == nil {
		t.Fatalf("expected invalid vault address to fail")
	}
}
