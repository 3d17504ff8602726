// Package channelclient defines the narrow join/part message channel
// interface the watcher depends on and decodes the JSON envelope the
// channel delivers.
package channelclient

import (
	"context"
	"encoding/json"
	"fmt"

	"communitycore/core/types"
)

// Client is the subset of channel access the watcher needs: a subscription
// that starts delivering messages from a given server timestamp onward.
type Client interface {
	Subscribe(ctx context.Context, fromTimestamp int64) (<-chan types.ChannelMessage, error)
}

// envelope mirrors the wire format: {type, addresses, messageId:{timestamp}}.
type envelope struct {
	Type      string   `json:"type"`
	Addresses []string `json:"addresses"`
	MessageID struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"messageId"`
}

// Decode parses one channel envelope into a ChannelMessage.
func Decode(raw []byte) (types.ChannelMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.ChannelMessage{}, fmt.Errorf("channelclient: decode envelope: %w", err)
	}

	var kind types.ChannelMessageKind
	switch env.Type {
	case "join":
		kind = types.ChannelMessageJoin
	case "part":
		kind = types.ChannelMessagePart
	default:
		return types.ChannelMessage{}, fmt.Errorf("channelclient: unknown message type %q", env.Type)
	}

	addrs := make([]types.Address, 0, len(env.Addresses))
	for _, raw := range env.Addresses {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			return types.ChannelMessage{}, fmt.Errorf("channelclient: %w", err)
		}
		addrs = append(addrs, addr)
	}

	return types.ChannelMessage{
		Kind:      kind,
		Addresses: addrs,
		Timestamp: env.MessageID.Timestamp,
	}, nil
}
