// Package operator is the thin commit-trigger façade the process entry
// point drives: it owns a watcher's run loop and exposes the one operation
// outside code actually calls on a schedule, Commit.
package operator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"communitycore/core/ledger"
	"communitycore/core/merkle"
	"communitycore/core/watcher"
)

// Config seeds a new Operator.
type Config struct {
	State   *ledger.State
	Watcher *watcher.Watcher
	Logger  *slog.Logger

	// CommitInterval, if positive, makes Start spawn a background ticker
	// that calls Commit on its own; callers driving commits from an
	// external scheduler (e.g. in response to an on-chain admin
	// transaction) should leave this zero and call Commit directly.
	CommitInterval time.Duration
}

// Operator is the per-community façade wiring a Watcher's live dispatch
// loop to the periodic (or externally triggered) block commit.
type Operator struct {
	state   *ledger.State
	watcher *watcher.Watcher
	log     *slog.Logger

	commitInterval time.Duration

	mu     sync.Mutex
	runErr error
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs an Operator.
func New(cfg Config) (*Operator, error) {
	if cfg.State == nil || cfg.Watcher == nil {
		return nil, fmt.Errorf("operator: State and Watcher are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{
		state:          cfg.State,
		watcher:        cfg.Watcher,
		log:            logger,
		commitInterval: cfg.CommitInterval,
	}, nil
}

// Start bootstraps the watcher and launches its live dispatch loop plus, if
// configured, a periodic commit ticker, all in background goroutines. It
// returns once bootstrap (the catch-up replay) has completed; callers
// should follow with Shutdown at process exit.
func (o *Operator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	buffered, err := o.watcher.Bootstrap(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("operator: bootstrap: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.watcher.Run(runCtx, buffered); err != nil {
			o.mu.Lock()
			o.runErr = err
			o.mu.Unlock()
			o.log.Error("operator: watcher run loop exited", "error", err.Error())
		}
	}()

	if o.commitInterval > 0 {
		o.wg.Add(1)
		go o.runCommitTicker(runCtx)
	}

	return nil
}

func (o *Operator) runCommitTicker(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.commitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := o.Commit(ctx); err != nil {
				o.log.Error("operator: scheduled commit failed", "error", err.Error())
			}
		}
	}
}

// Commit snapshots the ledger's real-time member view into a new block,
// persists it, and returns the root hash and block number for the caller
// to submit on-chain. The submitted transaction's eventual BlockCreated log
// is treated by the watcher as confirmation only; Commit does not wait for
// it.
func (o *Operator) Commit(ctx context.Context) (rootHash [32]byte, blockNumber uint64, err error) {
	blockNumber = 1
	if latest := o.state.GetLatestBlock(); latest != nil {
		blockNumber = latest.BlockNumber + 1
	}

	leaves, err := o.realtimeLeaves()
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("operator: collect leaves: %w", err)
	}

	tree, err := merkle.Build(leaves, blockNumber)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("operator: build tree: %w", err)
	}

	block, err := o.state.OnBlockCreated(blockNumber, nowMillis(), tree.RootBytes())
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("operator: commit block: %w", err)
	}

	return block.RootHash, block.BlockNumber, nil
}

// Shutdown cancels the watcher's run loop and commit ticker and waits for
// both to exit.
func (o *Operator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operator) realtimeLeaves() ([]merkle.Leaf, error) {
	return o.state.RealtimeLeaves(), nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
