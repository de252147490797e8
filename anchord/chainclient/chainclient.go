// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainclient wraps the JSON-RPC interface of an Ethereum compatible
// node.  It only implements the handful of calls anchord needs: nonce and
// block height queries, raw transaction submission, receipt lookups and
// historical anchor logs.
package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

var (
	// ErrNotFound is returned for receipt lookups of transactions the
	// node does not know about, typically because they have not been
	// mined yet.
	ErrNotFound = errors.New("transaction not found")

	// ErrNoSubscription is returned by SubscribeNewHeads when no
	// websocket endpoint is configured.
	ErrNoSubscription = errors.New("no websocket endpoint configured")
)

// RPCError is a structured rejection from the node.  These are permanent;
// retrying the same call yields the same answer.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %v: %v", e.Code, e.Message)
}

// httpError is a non-200 answer from the endpoint itself, e.g. a gateway
// timeout from an RPC provider.
type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %v", e.status)
}

// IsTransient returns true if the provided error is worth retrying with
// backoff.  Structured chain rejections and not-yet-mined lookups are the
// only permanent classes; everything else (timeouts, connection resets,
// gateway errors, garbled replies) is assumed to be the network having a bad
// day.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var rpcErr *RPCError
	return !errors.As(err, &rpcErr)
}

// IsNonceConflict returns true if the node rejected a transaction over its
// nonce.  A stale nonce is retryable once the sequencer re-syncs; it is not
// a terminal failure.
func IsNonceConflict(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), "nonce")
}

// Config describes how to reach the remote node.
type Config struct {
	Endpoint   string        // JSON-RPC URL, http or https
	WSEndpoint string        // Optional websocket URL for subscriptions
	Credential string        // Optional bearer token, never logged
	Timeout    time.Duration // Per request timeout
}

// Client talks JSON-RPC 2.0 to a single remote node.  It keeps no chain
// state of its own; all methods are safe for concurrent use.
type Client struct {
	endpoint   string
	wsEndpoint string
	credential string
	httpClient *http.Client
	reqID      uint64
}

// New returns a Client for the provided configuration.
func New(cfg *Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid rpc endpoint: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid rpc endpoint scheme: %v",
			u.Scheme)
	}
	if cfg.WSEndpoint != "" {
		wu, err := url.Parse(cfg.WSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid ws endpoint: %v", err)
		}
		if wu.Scheme != "ws" && wu.Scheme != "wss" {
			return nil, fmt.Errorf("invalid ws endpoint scheme: %v",
				wu.Scheme)
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		wsEndpoint: cfg.WSEndpoint,
		credential: cfg.Credential,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs a single JSON-RPC round trip.  A nil result pointer discards
// the answer.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.reqID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint,
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpError{status: resp.StatusCode}
	}

	var reply rpcResponse
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&reply); err != nil {
		return fmt.Errorf("invalid rpc reply: %v", err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if result == nil {
		return nil
	}
	if len(reply.Result) == 0 || bytes.Equal(reply.Result, []byte("null")) {
		return ErrNotFound
	}
	return json.Unmarshal(reply.Result, result)
}

// parseQuantity converts a 0x prefixed hex quantity into a uint64.
func parseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return 0, fmt.Errorf("invalid quantity: %q", s)
	}
	return strconv.ParseUint(s[2:], 16, 64)
}

// formatQuantity converts a uint64 into a 0x prefixed hex quantity.
func formatQuantity(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// parseHash converts a 0x prefixed 256 bit hex string into a hash.
func parseHash(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash: %v", err)
	}
	if len(b) != chainhash.HashSize {
		return h, fmt.Errorf("invalid hash length: %v", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashHex returns the 0x prefixed hex representation of h as it travels on
// the RPC wire and in API replies.
func HashHex(h chainhash.Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

// PendingNonce returns the next nonce for the provided account, including
// transactions still sitting in the node's mempool.
func (c *Client) PendingNonce(ctx context.Context, addr string) (uint64, error) {
	var result string
	err := c.call(ctx, "eth_getTransactionCount",
		[]interface{}{addr, "pending"}, &result)
	if err != nil {
		return 0, err
	}
	return parseQuantity(result)
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	err := c.call(ctx, "eth_blockNumber", nil, &result)
	if err != nil {
		return 0, err
	}
	return parseQuantity(result)
}

// SubmitRawTransaction broadcasts a signed serialized transaction and
// returns its hash.  Once this call succeeds the transaction cannot be
// retracted.
func (c *Client) SubmitRawTransaction(ctx context.Context, rawTx []byte) (chainhash.Hash, error) {
	var result string
	err := c.call(ctx, "eth_sendRawTransaction",
		[]interface{}{"0x" + hex.EncodeToString(rawTx)}, &result)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return parseHash(result)
}

// Receipt describes a mined anchoring transaction.
type Receipt struct {
	TxHash      chainhash.Hash // Transaction hash
	BlockHash   chainhash.Hash // Block the tx was mined in
	BlockNumber uint64         // Height of that block
	BlockTime   int64          // Unix timestamp of that block
	Status      uint64         // 1 success, 0 reverted
}

type rawReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockHash       string `json:"blockHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

type rawBlock struct {
	Timestamp string `json:"timestamp"`
}

// Receipt looks up the receipt for the provided transaction hash.  It
// returns ErrNotFound while the transaction is unmined.
func (c *Client) Receipt(ctx context.Context, tx chainhash.Hash) (*Receipt, error) {
	var raw rawReceipt
	err := c.call(ctx, "eth_getTransactionReceipt",
		[]interface{}{HashHex(tx)}, &raw)
	if err != nil {
		return nil, err
	}

	r := &Receipt{}
	r.TxHash, err = parseHash(raw.TransactionHash)
	if err != nil {
		return nil, err
	}
	if r.TxHash != tx {
		return nil, fmt.Errorf("receipt hash mismatch: %v",
			raw.TransactionHash)
	}
	r.BlockHash, err = parseHash(raw.BlockHash)
	if err != nil {
		return nil, err
	}
	r.BlockNumber, err = parseQuantity(raw.BlockNumber)
	if err != nil {
		return nil, err
	}
	r.Status, err = parseQuantity(raw.Status)
	if err != nil {
		return nil, err
	}

	// Receipts don't carry the block time so fetch the header as well.
	var blk rawBlock
	err = c.call(ctx, "eth_getBlockByHash",
		[]interface{}{raw.BlockHash, false}, &blk)
	if err != nil {
		return nil, err
	}
	ts, err := parseQuantity(blk.Timestamp)
	if err != nil {
		return nil, err
	}
	r.BlockTime = int64(ts)

	return r, nil
}

// Confirmations returns the number of confirmations the provided transaction
// has, along with its receipt.  A transaction in the current best block has
// one confirmation.
func (c *Client) Confirmations(ctx context.Context, tx chainhash.Hash) (int64, *Receipt, error) {
	r, err := c.Receipt(ctx, tx)
	if err != nil {
		return 0, nil, err
	}
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, nil, err
	}
	if head < r.BlockNumber {
		// The node is behind the block it just reported; treat as
		// unconfirmed until its view settles.
		return 0, r, nil
	}
	return int64(head-r.BlockNumber) + 1, r, nil
}

// Log is a single anchor event emitted by the anchor contract.
type Log struct {
	TxHash      chainhash.Hash
	BlockNumber uint64
	Data        []byte
}

type rawLog struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Data            string `json:"data"`
}

// AnchorLogs returns the anchor contract's logs for the given block range.
// Used for audits and chain-side reconciliation, not for the verification
// hot path.
func (c *Client) AnchorLogs(ctx context.Context, contract string, from, to uint64) ([]Log, error) {
	var raws []rawLog
	err := c.call(ctx, "eth_getLogs", []interface{}{
		map[string]interface{}{
			"address":   contract,
			"fromBlock": formatQuantity(from),
			"toBlock":   formatQuantity(to),
		},
	}, &raws)
	if err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(raws))
	for _, rl := range raws {
		var l Log
		l.TxHash, err = parseHash(rl.TransactionHash)
		if err != nil {
			return nil, err
		}
		l.BlockNumber, err = parseQuantity(rl.BlockNumber)
		if err != nil {
			return nil, err
		}
		l.Data, err = hex.DecodeString(strings.TrimPrefix(rl.Data, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid log data: %v", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
