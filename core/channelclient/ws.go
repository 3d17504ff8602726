package channelclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"nhooyr.io/websocket"

	"communitycore/core/types"
)

// WSClient is the default Client, backed by a websocket connection to the
// community's join/part message channel.
type WSClient struct {
	endpoint string
}

// NewWSClient builds a client for the given websocket endpoint.
func NewWSClient(endpoint string) *WSClient {
	return &WSClient{endpoint: endpoint}
}

// Subscribe dials the channel and streams decoded messages starting from
// fromTimestamp. The returned channel is closed when the connection ends or
// ctx is canceled. A message that fails to decode is dropped; it is neither
// logged nor reported to the caller.
func (c *WSClient) Subscribe(ctx context.Context, fromTimestamp int64) (<-chan types.ChannelMessage, error) {
	dialURL, err := c.dialURL(fromTimestamp)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("channelclient: dial %s: %w", dialURL, err)
	}

	out := make(chan types.ChannelMessage)
	go c.pump(ctx, conn, out)
	return out, nil
}

func (c *WSClient) dialURL(fromTimestamp int64) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("channelclient: invalid endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("from", strconv.FormatInt(fromTimestamp, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSClient) pump(ctx context.Context, conn *websocket.Conn, out chan<- types.ChannelMessage) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "subscriber done")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}
