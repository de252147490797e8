// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainclient

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsReply struct {
	ID     uint64    `json:"id"`
	Result string    `json:"result"`
	Error  *RPCError `json:"error"`
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

// SubscribeNewHeads subscribes to new block headers over the websocket
// endpoint and delivers block heights on the returned channel.  The
// subscription ends when ctx is canceled or the connection drops; the
// channel is closed either way, so callers must treat it as best effort and
// keep their interval polling as fallback.
func (c *Client) SubscribeNewHeads(ctx context.Context) (<-chan uint64, error) {
	if c.wsEndpoint == "" {
		return nil, ErrNoSubscription
	}

	hdr := http.Header{}
	if c.credential != "" {
		hdr.Set("Authorization", "Bearer "+c.credential)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsEndpoint,
		hdr)
	if err != nil {
		return nil, err
	}

	err = conn.WriteJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	var reply wsReply
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Error != nil {
		conn.Close()
		return nil, reply.Error
	}
	log.Debugf("newHeads subscription: %v", reply.Result)

	heads := make(chan uint64, 1)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(heads)
		for {
			var n wsNotification
			if err := conn.ReadJSON(&n); err != nil {
				if ctx.Err() == nil {
					log.Warnf("newHeads subscription "+
						"closed: %v", err)
				}
				return
			}
			if n.Method != "eth_subscription" {
				continue
			}
			height, err := parseQuantity(n.Params.Result.Number)
			if err != nil {
				log.Warnf("invalid head notification: %v", err)
				continue
			}
			select {
			case heads <- height:
			default:
				// Consumer is busy; it only needs a nudge, not
				// every height.
			}
		}
	}()
	return heads, nil
}
