package types

import "github.com/holiman/uint256"

// ChainEventKind tags the three on-chain event shapes the watcher consumes.
type ChainEventKind int

const (
	ChainEventAdminFeeChanged ChainEventKind = iota
	ChainEventBlockCreated
	ChainEventTokenTransfer
)

// ChainEvent is the decoded form of a root-chain log entry. Only the fields
// relevant to its Kind are populated. BlockNumber/TxIndex/LogIndex/Timestamp
// are always populated and drive EventMerge's tie-break ordering.
type ChainEvent struct {
	Kind        ChainEventKind
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
	Timestamp   int64 // ms since epoch, the block's timestamp

	// ChainEventAdminFeeChanged
	AdminFeeFraction *uint256.Int // scaled by 1e18

	// ChainEventBlockCreated
	CommittedBlockNumber uint64
	RootHash             [32]byte
	IPFSHash             string

	// ChainEventTokenTransfer
	From  Address
	To    Address
	Value *uint256.Int
}

// ChannelMessageKind tags the two off-chain join/part message shapes
// delivered over the message channel.
type ChannelMessageKind int

const (
	ChannelMessageJoin ChannelMessageKind = iota
	ChannelMessagePart
)

// ChannelMessage is the decoded form of a join/part envelope delivered over
// the message channel.
type ChannelMessage struct {
	Kind      ChannelMessageKind
	Addresses []Address
	Timestamp int64 // ms since epoch, the message's server timestamp

	// seq disambiguates messages that share a Timestamp, preserving the
	// channel's delivery order.
	seq uint64
}

// WithSeq stamps the message with its arrival sequence number. The watcher
// calls this once per message as it is received off the channel.
func (m ChannelMessage) WithSeq(seq uint64) ChannelMessage {
	m.seq = seq
	return m
}

// Seq returns the arrival sequence number stamped by WithSeq.
func (m ChannelMessage) Seq() uint64 {
	return m.seq
}
