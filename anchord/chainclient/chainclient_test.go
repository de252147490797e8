// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcHandler produces the result (or error) for one JSON-RPC method.
type rpcHandler func(params []json.RawMessage) (interface{}, *RPCError)

// newTestNode spins up a scripted JSON-RPC node.
func newTestNode(t *testing.T, handlers map[string]rpcHandler) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			err := json.NewDecoder(r.Body).Decode(&req)
			require.NoError(t, err)

			h, ok := handlers[req.Method]
			require.True(t, ok, "unexpected method %v", req.Method)

			result, rpcErr := h(req.Params)
			reply := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
			}
			if rpcErr != nil {
				reply["error"] = rpcErr
			} else {
				reply["result"] = result
			}
			err = json.NewEncoder(w).Encode(reply)
			require.NoError(t, err)
		}))
	t.Cleanup(srv.Close)

	c, err := New(&Config{Endpoint: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadEndpoints(t *testing.T) {
	_, err := New(&Config{Endpoint: "ftp://node.example.com"})
	assert.Error(t, err)

	_, err = New(&Config{Endpoint: "https://node.example.com",
		WSEndpoint: "https://node.example.com"})
	assert.Error(t, err)

	_, err = New(&Config{Endpoint: "https://node.example.com",
		WSEndpoint: "wss://node.example.com"})
	assert.NoError(t, err)
}

func TestPendingNonce(t *testing.T) {
	c := newTestNode(t, map[string]rpcHandler{
		"eth_getTransactionCount": func(params []json.RawMessage) (interface{}, *RPCError) {
			var addr, tag string
			require.NoError(t, json.Unmarshal(params[0], &addr))
			require.NoError(t, json.Unmarshal(params[1], &tag))
			assert.Equal(t, "pending", tag)
			return "0x2a", nil
		},
	})

	nonce, err := c.PendingNonce(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestSubmitRawTransaction(t *testing.T) {
	txid := "0x" + "11" + "223344556677889900aabbccddeeff00112233445566778899aabbccddeeff"
	c := newTestNode(t, map[string]rpcHandler{
		"eth_sendRawTransaction": func(params []json.RawMessage) (interface{}, *RPCError) {
			var raw string
			require.NoError(t, json.Unmarshal(params[0], &raw))
			assert.Equal(t, "0xdeadbeef", raw)
			return txid, nil
		},
	})

	h, err := c.SubmitRawTransaction(context.Background(),
		[]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, txid, HashHex(h))
}

func TestSubmitRejection(t *testing.T) {
	c := newTestNode(t, map[string]rpcHandler{
		"eth_sendRawTransaction": func(params []json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -32000,
				Message: "invalid sender signature"}
		},
	})

	_, err := c.SubmitRawTransaction(context.Background(), []byte{0x01})
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32000, rpcErr.Code)
	assert.False(t, IsTransient(err))
	assert.False(t, IsNonceConflict(err))
}

func TestNonceConflict(t *testing.T) {
	err := error(&RPCError{Code: -32000, Message: "nonce too low"})
	assert.True(t, IsNonceConflict(err))
	assert.False(t, IsTransient(err))
}

func TestReceiptNotFound(t *testing.T) {
	c := newTestNode(t, map[string]rpcHandler{
		"eth_getTransactionReceipt": func(params []json.RawMessage) (interface{}, *RPCError) {
			return nil, nil
		},
	})

	var tx chainhash.Hash
	_, err := c.Receipt(context.Background(), tx)
	require.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsTransient(err))
}

func TestConfirmations(t *testing.T) {
	var tx chainhash.Hash
	tx[0] = 0xaa
	blockHash := "0x" + "bb00000000000000000000000000000000000000000000000000000000000000"

	c := newTestNode(t, map[string]rpcHandler{
		"eth_getTransactionReceipt": func(params []json.RawMessage) (interface{}, *RPCError) {
			return map[string]string{
				"transactionHash": HashHex(tx),
				"blockHash":       blockHash,
				"blockNumber":     "0x10",
				"status":          "0x1",
			}, nil
		},
		"eth_getBlockByHash": func(params []json.RawMessage) (interface{}, *RPCError) {
			return map[string]string{"timestamp": "0x64"}, nil
		},
		"eth_blockNumber": func(params []json.RawMessage) (interface{}, *RPCError) {
			return "0x15", nil
		},
	})

	confs, r, err := c.Confirmations(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), confs)
	assert.Equal(t, uint64(16), r.BlockNumber)
	assert.Equal(t, int64(100), r.BlockTime)
	assert.Equal(t, uint64(1), r.Status)
}

func TestTransientClassification(t *testing.T) {
	c := newTestNode(t, map[string]rpcHandler{})
	// Point the client at a closed server to provoke a network error.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c.endpoint = srv.URL

	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	assert.True(t, IsTransient(&httpError{status: 503}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
}

func TestQuantities(t *testing.T) {
	v, err := parseQuantity("0x0")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	v, err = parseQuantity(formatQuantity(1234567))
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567), v)

	_, err = parseQuantity("10")
	assert.Error(t, err)
	_, err = parseQuantity("0x")
	assert.Error(t, err)
}
