package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackhole-labs/blend-liquidator/internal/chainrpc"
	"github.com/blackhole-labs/blend-liquidator/internal/config"
	"github.com/blackhole-labs/blend-liquidator/internal/logging"
	"github.com/blackhole-labs/blend-liquidator/internal/storage"
	"github.com/blackhole-labs/blend-liquidator/pkg/alert"
	"github.com/blackhole-labs/blend-liquidator/pkg/auctioneer"
	"github.com/blackhole-labs/blend-liquidator/pkg/chainadapter"
	"github.com/blackhole-labs/blend-liquidator/pkg/errorlog"
	"github.com/blackhole-labs/blend-liquidator/pkg/ingestor"
	"github.com/blackhole-labs/blend-liquidator/pkg/liquidator"
	"github.com/blackhole-labs/blend-liquidator/pkg/ratecache"
	"github.com/blackhole-labs/blend-liquidator/pkg/signer"
)

const rpcTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: liquidator-bot run --config-path PATH --private-key HEX")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config-path", "", "path to the agent's JSON or YAML config")
	privateKey := fs.String("private-key", "", "hex-encoded Ed25519 signing seed")
	debug := fs.Bool("debug", false, "enable development-mode logging")
	_ = fs.Parse(os.Args[2:])

	if err := run(*configPath, *privateKey, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "liquidator-bot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, privateKeyHex string, debug bool) error {
	if configPath == "" {
		return errors.New("--config-path is required")
	}
	if privateKeyHex == "" {
		return errors.New("--private-key is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sig, err := signer.FromSeedHex(privateKeyHex)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chainrpc.Dial(ctx, cfg.RPCURL, rpcTimeout)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}
	defer client.Close()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	logger, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	audit, err := logging.OpenAuditSink(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	defer audit.Close()

	errLog, err := errorlog.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer errLog.Close()

	var notifier *alert.Notifier
	if cfg.AlertingEnabled() {
		notifier = alert.New(os.Getenv(cfg.SlackAPIURLKey))
	}

	chain := chainadapter.New(client, sig, store, cfg.OracleID, cfg.BackstopTokenAddress, cfg.Assets)
	rates := ratecache.New(store, chain)

	auctioneerStrategy := auctioneer.New(
		cfg.Pools, store, store, rates, store, chain, chain, chain, 10,
		cfg.UserSyncBatchLimit, cfg.OracleUpdateEventsEnabled,
	)

	liquidatorStrategy := liquidator.New(
		store, store, chain, chain, chain, store, notifier,
		cfg.SupportedCollateral, cfg.SupportedLiabilities,
		cfg.MinHF.Int, cfg.RequiredProfit.Int, cfg.BidPercentage,
		cfg.SubmitCooldownBlocks,
	)
	liquidatorStrategy.SetSelfAddress(sig.Address())

	eng := ingestor.New(
		[]ingestor.Strategy{auctioneerStrategy, liquidatorStrategy},
		store, errLog,
		ingestor.WithOracleRefreshInterval(10),
	)

	logger.Info("bootstrapping watch set")
	if err := eng.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	records := make(chan ingestor.Record, 500_000)

	go collectBlocks(ctx, client, records, audit)
	go collectEvents(ctx, client, records, audit)

	logger.Info("starting ingestor")
	if err := eng.Run(ctx, records); err != nil {
		return fmt.Errorf("run ingestor: %w", err)
	}
	return nil
}

// collectBlocks polls the chain's latest ledger and feeds one
// block-boundary record per newly observed block, driving the per-block
// heartbeat and oracle-refresh sweep (spec.md §5). A polling failure is
// transient: it is audited and retried on the next tick rather than
// halting the pipeline.
func collectBlocks(ctx context.Context, client chainrpc.Client, out chan<- ingestor.Record, audit *logging.AuditSink) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	first := make(chan time.Time, 1)
	first <- time.Now()
	var tick <-chan time.Time = first

	var last uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			tick = ticker.C
			latest, err := client.GetLatestLedger(ctx)
			if err != nil {
				audit.Record("block-collector", logging.SeverityTransient, err)
				continue
			}
			for b := last + 1; b <= latest; b++ {
				select {
				case out <- ingestor.Record{Block: b, IsBlockBoundary: true}:
				case <-ctx.Done():
					return
				}
			}
			if latest > last {
				last = latest
			}
		}
	}
}

// collectEvents pages contract events forward from the last-seen ledger
// and feeds one record per event, in the order the node returns them
// (already (block, index)-ordered per spec.md §4.1).
func collectEvents(ctx context.Context, client chainrpc.Client, out chan<- ingestor.Record, audit *logging.AuditSink) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	first := make(chan time.Time, 1)
	first <- time.Now()
	var tick <-chan time.Time = first

	var nextLedger uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			tick = ticker.C
			events, latest, err := client.GetEvents(ctx, nextLedger)
			if err != nil {
				audit.Record("event-collector", logging.SeverityTransient, err)
				continue
			}
			for _, ev := range events {
				select {
				case out <- ingestor.Record{Block: ev.Block, Raw: ev}:
				case <-ctx.Done():
					return
				}
			}
			if latest+1 > nextLedger {
				nextLedger = latest + 1
			}
		}
	}
}
