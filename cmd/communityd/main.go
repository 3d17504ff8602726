package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"communitycore/config"
	"communitycore/core/chainclient"
	"communitycore/core/channelclient"
	"communitycore/core/ledger"
	"communitycore/core/operator"
	"communitycore/core/types"
	"communitycore/core/watcher"
	"communitycore/observability/logging"
	"communitycore/observability/metrics"
	"communitycore/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("communityd: %v", err)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the operator configuration file")
	commitInterval := flag.Duration("commit-interval", time.Hour, "interval between automatic block commits; 0 disables automatic commits")
	flag.Parse()

	env := config.LoadEnv()
	logger := logging.Setup("communityd", os.Getenv("COMMUNITY_ENV"))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	adminFee, err := cfg.AdminFeeFractionUint256()
	if err != nil {
		return fmt.Errorf("parse admin fee fraction: %w", err)
	}

	storeDir := cfg.StoreDir
	if env.StoreDirOverride != "" {
		storeDir = env.StoreDirOverride
	}
	if env.Reset {
		logger.Warn("reset requested, wiping persisted store", "dir", storeDir)
		if err := os.RemoveAll(storeDir); err != nil {
			return fmt.Errorf("reset store dir %s: %w", storeDir, err)
		}
	}

	store, err := storage.NewLevelDBStore(storeDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	m := metrics.Community()

	communityLogger := logging.ForCommunity(logger, cfg.TokenAddress.Hex(), cfg.CommunityAddress.Hex())

	initialMembers, adminEarnings, lastCommitted, err := seedFromCheckpoint(store)
	if err != nil {
		return fmt.Errorf("seed ledger from checkpoint: %w", err)
	}

	state := ledger.New(ledger.Config{
		BlockFreezeSeconds:       cfg.BlockFreezeSeconds,
		InitialMembers:           initialMembers,
		AdminAddress:             cfg.AdminAddress,
		AdminFeeFraction:         adminFee,
		AdminEarnings:            adminEarnings,
		CurrentTimestamp:         time.Now().UnixMilli(),
		LastCommittedBlockNumber: lastCommitted,
	}, store, m)

	if strings.TrimSpace(env.ChainEndpointURL) == "" {
		return fmt.Errorf("COMMUNITY_CHAIN_ENDPOINT must be set")
	}
	chain, err := chainclient.Dial(env.ChainEndpointURL)
	if err != nil {
		return fmt.Errorf("dial chain endpoint: %w", err)
	}
	defer chain.Close()

	if strings.TrimSpace(env.ChannelNodeAddress) == "" {
		return fmt.Errorf("COMMUNITY_CHANNEL_NODE must be set")
	}
	channel := channelclient.NewWSClient(env.ChannelNodeAddress)

	w, err := watcher.New(watcher.Config{
		State:              state,
		Store:              store,
		Chain:              chain,
		Channel:            channel,
		Metrics:            m,
		Logger:             communityLogger,
		TokenAddress:       cfg.TokenAddress,
		CommunityAddress:   cfg.CommunityAddress,
		AdminAddress:       cfg.AdminAddress,
		BlockFreezeSeconds: cfg.BlockFreezeSeconds,
	})
	if err != nil {
		return fmt.Errorf("build watcher: %w", err)
	}

	op, err := operator.New(operator.Config{
		State:          state,
		Watcher:        w,
		Logger:         communityLogger,
		CommitInterval: *commitInterval,
	})
	if err != nil {
		return fmt.Errorf("build operator: %w", err)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := op.Start(stopCtx); err != nil {
		return fmt.Errorf("start operator: %w", err)
	}

	if !env.Quiet {
		logger.Info("communityd running",
			"tokenAddress", cfg.TokenAddress.Hex(),
			"communityAddress", cfg.CommunityAddress.Hex(),
			"commitInterval", commitInterval.String())
	}

	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := op.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown operator: %w", err)
	}
	return nil
}

// seedFromCheckpoint loads the persisted checkpoint, if any, and the member
// set and admin earnings of its last committed block, so a restart resumes
// from exactly the earnings the ledger last committed rather than from zero.
// The watcher's own checkpoint only carries
// lastProcessedChainBlock/lastMessageTimestamp; it never snapshots the live
// member set or the admin's balance, so State itself must be reseeded here
// before the watcher replays anything forward. TotalEarnings is defined as
// the admin's cut plus every member's earnings at commit time, so the admin
// balance is recoverable as TotalEarnings minus the sum of the block's
// member earnings.
func seedFromCheckpoint(store storage.Store) ([]*types.Member, *uint256.Int, *uint64, error) {
	record, ok, err := store.LoadState()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok || record.LastCommittedBlock == 0 {
		return nil, nil, nil, nil
	}

	block, err := store.LoadBlock(record.LastCommittedBlock)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load last committed block %d: %w", record.LastCommittedBlock, err)
	}

	totalEarnings, err := uint256.FromDecimal(block.TotalEarnings)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse total earnings of block %d: %w", record.LastCommittedBlock, err)
	}

	members := make([]*types.Member, 0, len(block.Members))
	memberEarnings := uint256.NewInt(0)
	for _, rec := range block.Members {
		m, err := types.FromRecord(rec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rebuild member from block %d: %w", record.LastCommittedBlock, err)
		}
		members = append(members, m)
		memberEarnings.Add(memberEarnings, m.Earnings)
	}

	adminEarnings := new(uint256.Int).Sub(totalEarnings, memberEarnings)

	lastCommitted := record.LastCommittedBlock
	return members, adminEarnings, &lastCommitted, nil
}
