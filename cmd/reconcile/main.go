package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"colonyledger/internal/config"
	"colonyledger/internal/infrastructure/ethrpc"
	"colonyledger/internal/infrastructure/logging"
	"colonyledger/internal/ledger"
	"colonyledger/internal/query"
	"colonyledger/internal/reconcile"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	var (
		colonyFlag = flag.String("colony", "", "colony contract address")
		viewFlag   = flag.String("view", "transfers", "transfers, unclaimed-transfers, events or transaction")
		hashFlag   = flag.String("tx", "", "transaction hash for -view transaction")
		policyFlag = flag.String("policy", "", "fail-fast or collect-all; defaults to RECONCILE_POLICY")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if _, err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	if !common.IsHexAddress(*colonyFlag) {
		slog.Error("a valid -colony address is required")
		os.Exit(2)
	}
	policyName := cfg.ReconcilePolicy
	if *policyFlag != "" {
		policyName = *policyFlag
	}
	policy, err := reconcile.ParseJoinPolicy(policyName)
	if err != nil {
		slog.Error("invalid policy", "err", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chain, err := ethrpc.Dial(ctx, ethrpc.Config{URL: cfg.RPCURL, BlockTimeCacheSize: cfg.BlockTimeCacheSize})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}
	defer chain.Close()

	reconciler := reconcile.New(reconcile.Options{Workers: cfg.ReconcileWorkers, Policy: policy})
	facade, err := query.NewFacade(ledger.NewSession(), chain, reconciler)
	if err != nil {
		slog.Error("facade error", "err", err)
		os.Exit(1)
	}

	result, err := runView(ctx, facade, common.HexToAddress(*colonyFlag), *viewFlag, *hashFlag)
	if err != nil && !reconcile.IsPartial(err) {
		slog.Error("reconcile failed", "view", *viewFlag, "err", err)
		os.Exit(1)
	}
	if err != nil {
		slog.Warn("partial result", "view", *viewFlag, "err", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		slog.Error("encode error", "err", err)
		os.Exit(1)
	}
}

func runView(ctx context.Context, facade *query.Facade, colony common.Address, view, hash string) (any, error) {
	switch view {
	case query.ViewTransfers:
		return facade.Transfers(ctx, colony)
	case query.ViewUnclaimedTransfers:
		return facade.UnclaimedTransfers(ctx, colony)
	case query.ViewEvents:
		return facade.Events(ctx, colony)
	case "transaction":
		hashBytes := common.FromHex(hash)
		if len(hashBytes) != common.HashLength {
			return nil, fmt.Errorf("invalid -tx %q", hash)
		}
		return facade.Transaction(ctx, common.BytesToHash(hashBytes), colony)
	default:
		return nil, fmt.Errorf("unknown view %q", view)
	}
}
