// Package eventmerge orders chain events and channel messages into the
// single deterministic stream State consumes. It is a pure sort over a
// tagged union with an explicit tie-break comparator, not a
// generator/coroutine.
package eventmerge

import (
	"sort"

	"communitycore/core/types"
)

// Kind tags which union member an Item carries.
type Kind int

const (
	KindChainEvent Kind = iota
	KindChannelMessage
)

// Item is one entry of the merged stream.
type Item struct {
	Kind           Kind
	ChainEvent     types.ChainEvent
	ChannelMessage types.ChannelMessage
}

// Merge combines chainEvents and channelMessages into one stream ordered by
// timestamp ascending. Within equal timestamps, chain events precede channel
// messages. Chain-event ties break on (blockNumber, txIndex, logIndex).
// Channel-message ties preserve arrival order via each message's sequence
// number.
func Merge(chainEvents []types.ChainEvent, channelMessages []types.ChannelMessage) []Item {
	items := make([]Item, 0, len(chainEvents)+len(channelMessages))
	for _, ev := range chainEvents {
		items = append(items, Item{Kind: KindChainEvent, ChainEvent: ev})
	}
	for _, msg := range channelMessages {
		items = append(items, Item{Kind: KindChannelMessage, ChannelMessage: msg})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
	return items
}

func less(a, b Item) bool {
	ta, tb := timestamp(a), timestamp(b)
	if ta != tb {
		return ta < tb
	}
	if a.Kind != b.Kind {
		return a.Kind == KindChainEvent
	}
	if a.Kind == KindChainEvent {
		return chainEventLess(a.ChainEvent, b.ChainEvent)
	}
	return a.ChannelMessage.Seq() < b.ChannelMessage.Seq()
}

func timestamp(item Item) int64 {
	if item.Kind == KindChainEvent {
		return item.ChainEvent.Timestamp
	}
	return item.ChannelMessage.Timestamp
}

func chainEventLess(a, b types.ChainEvent) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TxIndex != b.TxIndex {
		return a.TxIndex < b.TxIndex
	}
	return a.LogIndex < b.LogIndex
}
