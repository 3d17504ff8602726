package channelclient_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"communitycore/core/channelclient"
	"communitycore/core/types"
)

func TestDecode_Join(t *testing.T) {
	raw := []byte(`{"type":"join","addresses":["0x0000000000000000000000000000000000000002"],"messageId":{"timestamp":1500}}`)
	msg, err := channelclient.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, types.ChannelMessageJoin, msg.Kind)
	require.Len(t, msg.Addresses, 1)
	require.EqualValues(t, 1500, msg.Timestamp)
}

func TestDecode_Part(t *testing.T) {
	raw := []byte(`{"type":"part","addresses":["0x0000000000000000000000000000000000000003"],"messageId":{"timestamp":2000}}`)
	msg, err := channelclient.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, types.ChannelMessagePart, msg.Kind)
}

func TestDecode_UnknownType(t *testing.T) {
	raw := []byte(`{"type":"kick","addresses":[],"messageId":{"timestamp":0}}`)
	_, err := channelclient.Decode(raw)
	require.Error(t, err)
}

func TestDecode_MalformedAddress(t *testing.T) {
	raw := []byte(`{"type":"join","addresses":["not-an-address"],"messageId":{"timestamp":0}}`)
	_, err := channelclient.Decode(raw)
	require.Error(t, err)
}
