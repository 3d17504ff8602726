// Package watcher drives a single community's replay: it subscribes to the
// chain and the join/part channel, merges both streams deterministically,
// and dispatches them onto a ledger.State. It owns the message cache and
// block-timestamp cache; it never owns the State it's given.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"communitycore/core/chainclient"
	"communitycore/core/channelclient"
	"communitycore/core/eventmerge"
	"communitycore/core/ledger"
	"communitycore/core/types"
	"communitycore/observability/metrics"
	"communitycore/storage"
)

const (
	defaultTimestampCacheSize = 4096

	// defaultReorgWindowBlocks is how many already-processed trailing
	// blocks each poll re-checks for vanished logs. 12 blocks comfortably
	// covers the shallow reorgs most EVM chains exhibit without re-scanning
	// the whole processed range every tick.
	defaultReorgWindowBlocks = 12
	maxReorgWindowBlocks     = 128
)

// Config seeds a new Watcher.
type Config struct {
	State   *ledger.State
	Store   storage.Store
	Chain   chainclient.Client
	Channel channelclient.Client
	Metrics *metrics.CommunityMetrics
	Logger  *slog.Logger

	TokenAddress       types.Address
	CommunityAddress   types.Address
	AdminAddress       types.Address
	BlockFreezeSeconds int64

	PollInterval       time.Duration
	TimestampCacheSize int

	// ReorgWindowBlocks bounds how many trailing processed blocks are
	// re-checked for a reorg on every poll. Defaults to
	// defaultReorgWindowBlocks; clamped to maxReorgWindowBlocks.
	ReorgWindowBlocks uint64

	// Reset is not read by Watcher: Bootstrap always loads a persisted
	// checkpoint when one exists and cross-checks it against this Config.
	// cmd/communityd handles a reset by deleting the store directory before
	// the store is opened.
	Reset bool
}

// Watcher is the single logical consumer of one community's event streams.
type Watcher struct {
	state   *ledger.State
	store   storage.Store
	chain   chainclient.Client
	channel channelclient.Client
	metrics *metrics.CommunityMetrics
	log     *slog.Logger

	tokenAddress       types.Address
	communityAddress   types.Address
	adminAddress       types.Address
	blockFreezeSeconds int64
	pollInterval       time.Duration
	reorgWindowBlocks  uint64

	timestampCache *lru.Cache

	mu                      sync.Mutex
	lastProcessedChainBlock uint64
	lastMessageTimestamp    int64
	lastAppliedEventTime    int64 // ms since epoch, latest timestamp of any applied event
	cachePrunedUpTo         int64
	messageCache            []types.ChannelMessage
	nextSeq                 uint64

	// appliedKeys records, per block number, the (txIndex,logIndex) keys of
	// every chain log already applied to State. checkReorgWindow re-fetches
	// a trailing range of blocks and compares against this to detect a
	// previously-applied log vanishing out from under a reorg.
	appliedKeys map[uint64]map[chainEventKey]struct{}
}

// chainEventKey identifies one chain log for reorg comparison.
type chainEventKey struct {
	TxIndex  uint
	LogIndex uint
}

// New constructs a Watcher. Call Bootstrap then Run to drive it.
func New(cfg Config) (*Watcher, error) {
	if cfg.State == nil || cfg.Store == nil || cfg.Chain == nil || cfg.Channel == nil {
		return nil, fmt.Errorf("watcher: State, Store, Chain, and Channel are required")
	}
	size := cfg.TimestampCacheSize
	if size <= 0 {
		size = defaultTimestampCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("watcher: build timestamp cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	reorgWindow := cfg.ReorgWindowBlocks
	if reorgWindow == 0 {
		reorgWindow = defaultReorgWindowBlocks
	}
	if reorgWindow > maxReorgWindowBlocks {
		reorgWindow = maxReorgWindowBlocks
	}

	return &Watcher{
		state:              cfg.State,
		store:              cfg.Store,
		chain:              cfg.Chain,
		channel:            cfg.Channel,
		metrics:            cfg.Metrics,
		log:                logger,
		tokenAddress:       cfg.TokenAddress,
		communityAddress:   cfg.CommunityAddress,
		adminAddress:       cfg.AdminAddress,
		blockFreezeSeconds: cfg.BlockFreezeSeconds,
		pollInterval:       pollInterval,
		reorgWindowBlocks:  reorgWindow,
		timestampCache:     cache,
		appliedKeys:        make(map[uint64]map[chainEventKey]struct{}),
	}, nil
}

// Bootstrap runs the startup protocol: load checkpoint, cross-check config,
// subscribe to the channel, catch up on missed chain logs, merge and replay
// onto State. It returns once the watcher has caught up to the chain head;
// callers should follow with Run for live dispatch.
func (w *Watcher) Bootstrap(ctx context.Context) (<-chan types.ChannelMessage, error) {
	record, ok, err := w.store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("watcher: load checkpoint: %w", err)
	}

	if ok {
		if err := w.crossCheckConfig(record); err != nil {
			return nil, err
		}
		w.lastProcessedChainBlock = record.LastProcessedChainBlock
		w.lastMessageTimestamp = record.LastMessageTimestamp
		w.cachePrunedUpTo = record.CachePrunedUpTo
	}

	liveChannel, err := w.channel.Subscribe(ctx, w.lastMessageTimestamp)
	if err != nil {
		return nil, fmt.Errorf("watcher: subscribe to channel: %w", err)
	}

	buffered := make(chan types.ChannelMessage, 256)
	go w.bufferSubscription(ctx, liveChannel, buffered)

	head, err := w.chain.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("watcher: fetch chain head: %w", err)
	}

	chainEvents, err := w.fetchChainEvents(ctx, w.lastProcessedChainBlock+1, head)
	if err != nil {
		return nil, err
	}

	drained := w.drainBuffered(buffered)

	merged := eventmerge.Merge(chainEvents, drained)
	if err := w.applyAll(merged); err != nil {
		return nil, err
	}
	if err := w.persistCheckpoint(); err != nil {
		return nil, err
	}
	w.pruneCache()
	w.reportReplayLag()

	return buffered, nil
}

// Run is the serial dispatch loop: a select over the merged stream of live
// channel messages and periodic chain polls, mirroring the single
// long-lived event-loop goroutine idiom. It blocks until ctx is canceled or
// a fatal error occurs.
func (w *Watcher) Run(ctx context.Context, buffered <-chan types.ChannelMessage) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.persistCheckpoint()

		case msg, ok := <-buffered:
			if !ok {
				// The subscription ended; keep polling the chain with this
				// case disabled (a nil channel never becomes ready).
				w.log.Warn("watcher: channel subscription closed, continuing chain polls only")
				buffered = nil
				continue
			}
			if err := w.applyOne(eventmerge.Item{Kind: eventmerge.KindChannelMessage, ChannelMessage: msg}); err != nil {
				return err
			}
			if err := w.persistCheckpoint(); err != nil {
				return err
			}
			w.reportReplayLag()

		case <-ticker.C:
			if err := w.checkReorgWindow(ctx); err != nil {
				return err
			}

			head, err := w.chain.LatestBlockNumber(ctx)
			if err != nil {
				w.log.Warn("watcher: poll failed, retrying next cycle", "error", err.Error())
				continue
			}
			w.mu.Lock()
			from := w.lastProcessedChainBlock + 1
			w.mu.Unlock()
			if from > head {
				w.pruneCache()
				continue
			}
			events, err := w.fetchChainEvents(ctx, from, head)
			if err != nil {
				return err
			}
			if err := w.applyAll(eventmerge.Merge(events, nil)); err != nil {
				return err
			}
			if err := w.persistCheckpoint(); err != nil {
				return err
			}
			w.pruneCache()
			w.reportReplayLag()
		}
	}
}

func (w *Watcher) stamp(msg types.ChannelMessage) types.ChannelMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq := w.nextSeq
	w.nextSeq++
	stamped := msg.WithSeq(seq)
	w.messageCache = append(w.messageCache, stamped)
	return stamped
}

func (w *Watcher) bufferSubscription(ctx context.Context, in <-chan types.ChannelMessage, out chan<- types.ChannelMessage) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- w.stamp(msg):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) drainBuffered(buffered <-chan types.ChannelMessage) []types.ChannelMessage {
	var drained []types.ChannelMessage
	for {
		select {
		case msg, ok := <-buffered:
			if !ok {
				return drained
			}
			drained = append(drained, msg)
		default:
			return drained
		}
	}
}

func (w *Watcher) fetchChainEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.ChainEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	logs, err := w.chain.FilterLogs(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("watcher: fetch logs [%d,%d]: %w", fromBlock, toBlock, err)
	}

	events := make([]types.ChainEvent, 0, len(logs))
	for _, log := range logs {
		ts, err := w.blockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return nil, err
		}
		ev, matched, err := chainclient.DecodeLog(log, w.tokenAddress, w.communityAddress, ts)
		if err != nil {
			return nil, fmt.Errorf("watcher: decode log: %w", err)
		}
		if matched {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (w *Watcher) blockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	if cached, ok := w.timestampCache.Get(blockNumber); ok {
		return cached.(int64), nil
	}
	ts, err := w.chain.BlockTimestamp(ctx, blockNumber)
	if err != nil {
		return 0, fmt.Errorf("watcher: fetch timestamp for block %d: %w", blockNumber, err)
	}
	w.timestampCache.Add(blockNumber, ts)
	return ts, nil
}

func (w *Watcher) applyAll(items []eventmerge.Item) error {
	for _, item := range items {
		if err := w.applyOne(item); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) applyOne(item eventmerge.Item) error {
	switch item.Kind {
	case eventmerge.KindChainEvent:
		return w.applyChainEvent(item.ChainEvent)
	case eventmerge.KindChannelMessage:
		return w.applyChannelMessage(item.ChannelMessage)
	default:
		return fmt.Errorf("watcher: unknown merged item kind %v", item.Kind)
	}
}

func (w *Watcher) applyChainEvent(ev types.ChainEvent) error {
	switch ev.Kind {
	case types.ChainEventAdminFeeChanged:
		w.state.OnAdminFeeChanged(ev.AdminFeeFraction, ev.Timestamp)
	case types.ChainEventTokenTransfer:
		if err := w.state.OnRevenue(ev.Value, ev.Timestamp); err != nil {
			return fmt.Errorf("watcher: apply revenue: %w", err)
		}
	case types.ChainEventBlockCreated:
		w.confirmCommit(ev)
	default:
		return fmt.Errorf("watcher: unknown chain event kind %v", ev.Kind)
	}

	w.mu.Lock()
	if ev.BlockNumber > w.lastProcessedChainBlock {
		w.lastProcessedChainBlock = ev.BlockNumber
	}
	if ev.Timestamp > w.lastAppliedEventTime {
		w.lastAppliedEventTime = ev.Timestamp
	}
	if w.appliedKeys[ev.BlockNumber] == nil {
		w.appliedKeys[ev.BlockNumber] = make(map[chainEventKey]struct{})
	}
	w.appliedKeys[ev.BlockNumber][chainEventKey{TxIndex: ev.TxIndex, LogIndex: ev.LogIndex}] = struct{}{}
	w.mu.Unlock()
	w.metrics.EventApplied("chain_" + chainEventKindName(ev.Kind))
	return nil
}

// confirmCommit reconciles an on-chain BlockCreated confirmation against the
// block the Operator already wrote optimistically via State.OnBlockCreated.
// A mismatch is logged rather than treated as fatal: the chain is the
// ultimate source of truth for which root was actually recorded, and
// reconciling that authoritatively is the out-of-scope wallet/read-API's
// job, not this core's.
func (w *Watcher) confirmCommit(ev types.ChainEvent) {
	latest := w.state.GetLatestBlock()
	if latest == nil || latest.BlockNumber != ev.CommittedBlockNumber {
		w.log.Warn("watcher: observed on-chain commit with no matching local block",
			"blockNumber", ev.CommittedBlockNumber)
		return
	}
	if latest.RootHash != ev.RootHash {
		w.log.Warn("watcher: on-chain root hash diverges from locally committed block",
			"blockNumber", ev.CommittedBlockNumber)
	}
}

func (w *Watcher) applyChannelMessage(msg types.ChannelMessage) error {
	switch msg.Kind {
	case types.ChannelMessageJoin:
		w.state.OnJoin(msg.Addresses, msg.Timestamp)
	case types.ChannelMessagePart:
		w.state.OnPart(msg.Addresses, msg.Timestamp)
	default:
		return fmt.Errorf("watcher: unknown channel message kind %v", msg.Kind)
	}

	w.mu.Lock()
	if msg.Timestamp > w.lastMessageTimestamp {
		w.lastMessageTimestamp = msg.Timestamp
	}
	if msg.Timestamp > w.lastAppliedEventTime {
		w.lastAppliedEventTime = msg.Timestamp
	}
	w.mu.Unlock()
	w.metrics.EventApplied("channel_" + channelMessageKindName(msg.Kind))
	return nil
}

// checkReorgWindow re-fetches logs over the trailing reorgWindowBlocks of
// already-processed chain blocks and compares them against the keys
// recorded when those blocks were originally applied. A key that was
// applied but is absent from the fresh fetch means its log was removed by
// a reorg after this watcher had already folded it into State, which
// ledger.State has no way to undo; this raises ErrReorgInvariantViolated
// rather than silently drifting from the chain.
func (w *Watcher) checkReorgWindow(ctx context.Context) error {
	w.mu.Lock()
	processed := w.lastProcessedChainBlock
	w.mu.Unlock()
	if processed == 0 {
		return nil
	}

	windowStart := uint64(1)
	if processed > w.reorgWindowBlocks {
		windowStart = processed - w.reorgWindowBlocks + 1
	}

	logs, err := w.chain.FilterLogs(ctx, windowStart, processed)
	if err != nil {
		return fmt.Errorf("watcher: reorg check fetch logs [%d,%d]: %w", windowStart, processed, err)
	}
	seen := make(map[uint64]map[chainEventKey]struct{}, len(logs))
	for _, lg := range logs {
		if seen[lg.BlockNumber] == nil {
			seen[lg.BlockNumber] = make(map[chainEventKey]struct{})
		}
		seen[lg.BlockNumber][chainEventKey{TxIndex: uint(lg.TxIndex), LogIndex: uint(lg.Index)}] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for block, keys := range w.appliedKeys {
		if block < windowStart || block > processed {
			continue
		}
		for key := range keys {
			if _, ok := seen[block][key]; !ok {
				w.metrics.ReorgViolationRecorded()
				return fmt.Errorf("watcher: %w: block %d tx %d log %d no longer present",
					ErrReorgInvariantViolated, block, key.TxIndex, key.LogIndex)
			}
		}
	}

	for block := range w.appliedKeys {
		if block < windowStart {
			delete(w.appliedKeys, block)
		}
	}
	return nil
}

// reportReplayLag records the gap between wall clock and the timestamp of
// the most recently applied event, giving operators a signal for how far
// behind a cold-started watcher still is mid-catch-up.
func (w *Watcher) reportReplayLag() {
	w.mu.Lock()
	lastApplied := w.lastAppliedEventTime
	w.mu.Unlock()
	if lastApplied == 0 {
		return
	}
	lagMillis := time.Now().UnixMilli() - lastApplied
	if lagMillis < 0 {
		lagMillis = 0
	}
	w.metrics.SetReplayLag(float64(lagMillis) / 1000.0)
}

// pruneCache evicts messages older than State's current timestamp from the
// in-memory cache and advances the pruning horizon. Subsequent Replay calls
// for a fromTimestamp before that horizon fail with ErrCachePruned.
func (w *Watcher) pruneCache() {
	cutoff := w.state.CurrentTimestamp()

	w.mu.Lock()
	defer w.mu.Unlock()
	if cutoff <= w.cachePrunedUpTo {
		return
	}
	kept := w.messageCache[:0]
	for _, msg := range w.messageCache {
		if msg.Timestamp >= cutoff {
			kept = append(kept, msg)
		}
	}
	w.messageCache = kept
	w.cachePrunedUpTo = cutoff
	w.metrics.CachePruneRecorded()
}

// Replay returns every cached channel message at or after fromTimestamp.
// Returns ErrCachePruned if fromTimestamp is before the pruning horizon.
func (w *Watcher) Replay(fromTimestamp int64) ([]types.ChannelMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fromTimestamp < w.cachePrunedUpTo {
		return nil, ErrCachePruned
	}
	var out []types.ChannelMessage
	for _, msg := range w.messageCache {
		if msg.Timestamp >= fromTimestamp {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (w *Watcher) crossCheckConfig(record storage.StateRecord) error {
	mismatch := record.TokenAddress != w.tokenAddress ||
		record.CommunityAddress != w.communityAddress ||
		record.AdminAddress != w.adminAddress ||
		record.BlockFreezeSeconds != w.blockFreezeSeconds
	if mismatch {
		return ErrConfigMismatch
	}
	return nil
}

func (w *Watcher) persistCheckpoint() error {
	w.mu.Lock()
	record := storage.StateRecord{
		TokenAddress:            w.tokenAddress,
		CommunityAddress:        w.communityAddress,
		AdminAddress:            w.adminAddress,
		BlockFreezeSeconds:      w.blockFreezeSeconds,
		LastCommittedBlock:      0,
		LastProcessedChainBlock: w.lastProcessedChainBlock,
		LastMessageTimestamp:    w.lastMessageTimestamp,
		CachePrunedUpTo:         w.cachePrunedUpTo,
	}
	w.mu.Unlock()

	if latest := w.state.GetLatestBlock(); latest != nil {
		record.LastCommittedBlock = latest.BlockNumber
	}
	if err := w.store.SaveState(record); err != nil {
		return fmt.Errorf("watcher: persist checkpoint: %w", err)
	}
	return nil
}

func chainEventKindName(k types.ChainEventKind) string {
	switch k {
	case types.ChainEventAdminFeeChanged:
		return "admin_fee_changed"
	case types.ChainEventBlockCreated:
		return "block_created"
	case types.ChainEventTokenTransfer:
		return "token_transfer"
	default:
		return "unknown"
	}
}

func channelMessageKindName(k types.ChannelMessageKind) string {
	switch k {
	case types.ChannelMessageJoin:
		return "join"
	case types.ChannelMessagePart:
		return "part"
	default:
		return "unknown"
	}
}
