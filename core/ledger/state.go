// Package ledger implements the deterministic event-sourced state engine:
// the member set, admin earnings, and the three ledger views (real-time,
// latest committed, latest withdrawable).
package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"communitycore/core/merkle"
	"communitycore/core/types"
	"communitycore/observability/metrics"
	"communitycore/storage"
)

// oneE18 is the fixed-point scale factor admin fee fractions are stored in,
// matching the on-chain AdminFeeChanged event.
var oneE18 = uint256.NewInt(1_000_000_000_000_000_000)

// Config seeds a new State.
type Config struct {
	BlockFreezeSeconds int64
	InitialMembers     []*types.Member
	AdminAddress       types.Address
	AdminFeeFraction   *uint256.Int // scaled by 1e18
	CurrentBlockNumber uint64
	CurrentTimestamp   int64

	// AdminEarnings optionally seeds the admin's accumulated earnings on
	// restart, recovered as LastCommittedBlockNumber's TotalEarnings minus
	// the sum of its Members' earnings. Without this, a restart would
	// silently zero the admin's historical balance even though
	// InitialMembers correctly recovers every member's.
	AdminEarnings *uint256.Int

	// LastCommittedBlockNumber optionally seeds the withdrawable-block
	// search with the single historical commit the watcher persisted. The
	// Store contract has no "list all blocks" operation, so full
	// committed-block history before process start is not recoverable
	// beyond this one seed; subsequent commits in this process's lifetime
	// extend the history normally.
	LastCommittedBlockNumber *uint64
}

// State is the single logical writer for one community's ledger. All
// mutation flows through its on* methods, serialized by mu; the mutex
// additionally makes GetProofAt/GetMemberCount safe to call from a
// concurrent reader, e.g. an HTTP handler goroutine in the full system.
type State struct {
	mu sync.Mutex

	store   storage.Store
	metrics *metrics.CommunityMetrics

	blockFreezeSeconds int64
	adminAddress       types.Address
	adminFeeFraction   *uint256.Int
	adminEarnings      *uint256.Int

	currentBlockNumber uint64
	currentTimestamp   int64

	members map[types.Address]*types.Member

	latestCommittedBlock  *types.Block
	committedBlockNumbers []uint64

	blockCache map[uint64]*types.Block
	treeCache  map[uint64]*merkle.Tree
}

// New constructs a State seeded with cfg's initial member list.
func New(cfg Config, store storage.Store, m *metrics.CommunityMetrics) *State {
	members := make(map[types.Address]*types.Member, len(cfg.InitialMembers))
	for _, mem := range cfg.InitialMembers {
		members[mem.Address] = mem.Clone()
	}
	adminFee := cfg.AdminFeeFraction
	if adminFee == nil {
		adminFee = uint256.NewInt(0)
	}
	adminEarnings := cfg.AdminEarnings
	if adminEarnings == nil {
		adminEarnings = uint256.NewInt(0)
	}
	s := &State{
		store:              store,
		metrics:            m,
		blockFreezeSeconds: cfg.BlockFreezeSeconds,
		adminAddress:       cfg.AdminAddress,
		adminFeeFraction:   new(uint256.Int).Set(adminFee),
		adminEarnings:      new(uint256.Int).Set(adminEarnings),
		currentBlockNumber: cfg.CurrentBlockNumber,
		currentTimestamp:   cfg.CurrentTimestamp,
		members:            members,
		blockCache:         make(map[uint64]*types.Block),
		treeCache:          make(map[uint64]*merkle.Tree),
	}
	if cfg.LastCommittedBlockNumber != nil {
		s.committedBlockNumbers = append(s.committedBlockNumbers, *cfg.LastCommittedBlockNumber)
	}
	return s
}

func (s *State) advanceTimestamp(ts int64) {
	if ts > s.currentTimestamp {
		s.currentTimestamp = ts
	}
}

// CurrentTimestamp returns the ledger's most recently applied event
// timestamp. Used by the watcher to decide cache pruning eligibility.
func (s *State) CurrentTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTimestamp
}

// OnJoin adds each address as an active member, preserving earnings for
// addresses that already exist but are inactive.
func (s *State) OnJoin(addresses []types.Address, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addresses {
		if existing, ok := s.members[addr]; ok {
			existing.SetActive(true)
			continue
		}
		s.members[addr] = types.NewMember(addr)
	}
	s.advanceTimestamp(timestamp)
	s.metrics.EventApplied("join")
}

// OnPart marks each address inactive. Unknown addresses are silently
// ignored.
func (s *State) OnPart(addresses []types.Address, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addresses {
		if existing, ok := s.members[addr]; ok {
			existing.SetActive(false)
		}
	}
	s.advanceTimestamp(timestamp)
	s.metrics.EventApplied("part")
}

// OnRevenue distributes amount among active members and the admin address.
// No floating point is used anywhere in this path.
func (s *State) OnRevenue(amount *uint256.Int, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.sortedActiveMembersLocked()

	adminShare, overflow := new(uint256.Int).MulDivOverflow(amount, s.adminFeeFraction, oneE18)
	if overflow {
		return fmt.Errorf("ledger: admin share computation overflowed for amount %s", amount)
	}
	remainder := new(uint256.Int).Sub(amount, adminShare)

	if len(active) == 0 {
		s.adminEarnings.Add(s.adminEarnings, amount)
		s.advanceTimestamp(timestamp)
		s.metrics.EventApplied("revenue")
		s.metrics.RevenueDistributed(uint256ToFloat(amount))
		s.metrics.AdminDust(uint256ToFloat(amount))
		return nil
	}

	count := uint256.NewInt(uint64(len(active)))
	perMember := new(uint256.Int).Div(remainder, count)
	distributed := new(uint256.Int).Mul(perMember, count)
	dust := new(uint256.Int).Sub(remainder, distributed)

	s.adminEarnings.Add(s.adminEarnings, new(uint256.Int).Add(adminShare, dust))
	for _, mem := range active {
		mem.AddRevenue(perMember)
	}

	s.advanceTimestamp(timestamp)
	s.metrics.EventApplied("revenue")
	s.metrics.RevenueDistributed(uint256ToFloat(amount))
	s.metrics.AdminDust(uint256ToFloat(dust))
	return nil
}

// uint256ToFloat is an observability-only lossy projection; the ledger's own
// arithmetic never goes through float64.
func uint256ToFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

// OnAdminFeeChanged replaces the admin fee fraction for subsequent onRevenue
// calls only; past distributions are not retro-adjusted.
func (s *State) OnAdminFeeChanged(newFraction *uint256.Int, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminFeeFraction = new(uint256.Int).Set(newFraction)
	s.advanceTimestamp(timestamp)
	s.metrics.EventApplied("admin_fee_changed")
}

// OnBlockCreated snapshots the current member list into an immutable Block
// and persists it via the Store. Earnings are not mutated.
func (s *State) OnBlockCreated(blockNumber uint64, timestamp int64, rootHash [32]byte) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := s.sortedAddressesLocked()
	records := make([]types.MemberRecord, 0, len(addrs))
	total := new(uint256.Int).Set(s.adminEarnings)
	for _, addr := range addrs {
		mem := s.members[addr]
		records = append(records, mem.ToRecord())
		total.Add(total, mem.Earnings)
	}

	block := &types.Block{
		BlockNumber:      blockNumber,
		Timestamp:        timestamp,
		Members:          records,
		TotalEarnings:    total.Dec(),
		AdminAddress:     s.adminAddress,
		AdminFeeFraction: new(uint256.Int).Set(s.adminFeeFraction),
		RootHash:         rootHash,
	}

	if err := s.store.SaveBlock(block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	s.latestCommittedBlock = block
	s.blockCache[blockNumber] = block
	s.committedBlockNumbers = append(s.committedBlockNumbers, blockNumber)
	s.currentBlockNumber = blockNumber
	s.advanceTimestamp(timestamp)
	s.metrics.CommitRecorded()

	return block, nil
}

// GetProofAt returns the Merkle path proving address's earnings in the
// given committed block.
func (s *State) GetProofAt(addr types.Address, blockNumber uint64) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := s.getBlockLocked(blockNumber)
	if err != nil {
		return nil, err
	}

	idx := sort.Search(len(block.Members), func(i int) bool {
		return !block.Members[i].Address.Less(addr)
	})
	if idx >= len(block.Members) || block.Members[idx].Address != addr {
		return nil, fmt.Errorf("%w: %s", ErrNotAMember, addr)
	}
	if block.Members[idx].Earnings == "0" || block.Members[idx].Earnings == "" {
		return nil, nil
	}

	tree, err := s.getOrBuildTreeLocked(block)
	if err != nil {
		return nil, err
	}
	return tree.Path(addr)
}

func (s *State) getBlockLocked(blockNumber uint64) (*types.Block, error) {
	if b, ok := s.blockCache[blockNumber]; ok {
		return b, nil
	}
	b, err := s.store.LoadBlock(blockNumber)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, fmt.Errorf("%w: block %d", ErrNoBlock, blockNumber)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	s.blockCache[blockNumber] = b
	return b, nil
}

func (s *State) getOrBuildTreeLocked(block *types.Block) (*merkle.Tree, error) {
	if t, ok := s.treeCache[block.BlockNumber]; ok {
		return t, nil
	}
	leaves := make([]merkle.Leaf, 0, len(block.Members))
	for _, rec := range block.Members {
		mem, err := types.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, merkle.Leaf{Address: mem.Address, Earnings: mem.Earnings})
	}
	tree, err := merkle.Build(leaves, block.BlockNumber)
	if err != nil {
		return nil, err
	}
	s.treeCache[block.BlockNumber] = tree
	return tree, nil
}

// RealtimeLeaves returns a Merkle leaf for every known member (active and
// inactive) at the ledger's current real-time view, sorted ascending by
// address. The operator uses this to build the tree for a new commit
// without mutating any state.
func (s *State) RealtimeLeaves() []merkle.Leaf {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := s.sortedAddressesLocked()
	leaves := make([]merkle.Leaf, 0, len(addrs))
	for _, addr := range addrs {
		mem := s.members[addr]
		leaves = append(leaves, merkle.Leaf{Address: mem.Address, Earnings: new(uint256.Int).Set(mem.Earnings)})
	}
	return leaves
}

// GetLatestBlock returns the most recently committed block, or nil if none
// has been committed yet.
func (s *State) GetLatestBlock() *types.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestCommittedBlock
}

// GetLatestWithdrawableBlock returns the most recent committed block whose
// timestamp is older than now - blockFreezeSeconds. now is ms since epoch,
// matching Block.Timestamp's unit; blockFreezeSeconds is converted to ms
// before the comparison.
func (s *State) GetLatestWithdrawableBlock(now int64) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now - s.blockFreezeSeconds*1000
	for i := len(s.committedBlockNumbers) - 1; i >= 0; i-- {
		block, err := s.getBlockLocked(s.committedBlockNumbers[i])
		if err != nil {
			return nil, err
		}
		if block.Timestamp < cutoff {
			return block, nil
		}
	}
	return nil, nil
}

// MemberCount reports active and total known members.
type MemberCount struct {
	Active int
	Total  int
}

// GetMemberCount returns the current active/total member counts.
func (s *State) GetMemberCount() MemberCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := MemberCount{Total: len(s.members)}
	for _, mem := range s.members {
		if mem.Active {
			count.Active++
		}
	}
	return count
}

func (s *State) sortedAddressesLocked() []types.Address {
	addrs := make([]types.Address, 0, len(s.members))
	for addr := range s.members {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	return addrs
}

func (s *State) sortedActiveMembersLocked() []*types.Member {
	addrs := s.sortedAddressesLocked()
	active := make([]*types.Member, 0, len(addrs))
	for _, addr := range addrs {
		if mem := s.members[addr]; mem.Active {
			active = append(active, mem)
		}
	}
	return active
}
