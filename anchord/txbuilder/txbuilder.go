// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder assembles and signs the transactions that anchor
// certificate digests on the chain.  A transaction carries the digest and
// the issuing institution id as calldata to the anchor contract and is
// signed locally with the configured key; nonce sequencing is serialized per
// key so concurrent submissions cannot collide.
package txbuilder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	// anchorMethod is the contract method an anchoring transaction calls.
	anchorMethod = "anchor(bytes32,uint256)"

	// defaultGasLimit comfortably covers a single anchor call.
	defaultGasLimit = 100000
)

// ErrNoKey is returned when no signing key has been configured.  This is a
// configuration error; nothing is submitted and no record is created.
var ErrNoKey = errors.New("no signing key configured")

// defaultGasPrice is 20 gwei.
var defaultGasPrice = new(big.Int).Mul(big.NewInt(20),
	big.NewInt(1000000000))

// UnsignedTx is a legacy transaction before signing.
type UnsignedTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       [20]byte
	Value    *big.Int
	Data     []byte
}

// Config describes the signing identity and the anchor contract.
type Config struct {
	SigningKey string   // 32 byte hex private key, environment provided
	ChainID    uint64   // Replay protection domain
	Contract   string   // Anchor contract address, 0x hex
	GasPrice   *big.Int // Optional, defaults to 20 gwei
	GasLimit   uint64   // Optional, defaults to defaultGasLimit
}

// Builder builds and signs anchoring transactions for a single key.
type Builder struct {
	key      *secp256k1.PrivateKey
	chainID  *big.Int
	contract [20]byte
	gasPrice *big.Int
	gasLimit uint64
	address  string
	nonces   *NonceSource
}

// keccak256 returns the Keccak-256 digest of the concatenation of data.
func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// parseAddress converts a 0x prefixed hex address into its binary form.
func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return addr, fmt.Errorf("invalid address: %v", err)
	}
	if len(b) != len(addr) {
		return addr, fmt.Errorf("invalid address length: %v", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// New returns a Builder for the provided configuration.  fetch is consulted
// to seed (and re-seed after conflicts) the nonce sequence from the chain.
func New(cfg *Config, fetch func(ctx context.Context, addr string) (uint64, error)) (*Builder, error) {
	if cfg.SigningKey == "" {
		return nil, ErrNoKey
	}
	keyBytes, err := hex.DecodeString(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %v", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("invalid signing key length: %v",
			len(keyBytes))
	}

	b := &Builder{
		key:      secp256k1.PrivKeyFromBytes(keyBytes),
		chainID:  new(big.Int).SetUint64(cfg.ChainID),
		gasPrice: cfg.GasPrice,
		gasLimit: cfg.GasLimit,
	}
	b.contract, err = parseAddress(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("invalid anchor contract: %v", err)
	}
	if b.gasPrice == nil {
		b.gasPrice = defaultGasPrice
	}
	if b.gasLimit == 0 {
		b.gasLimit = defaultGasLimit
	}

	// The account address is the tail of the Keccak-256 of the
	// uncompressed public key.
	pub := b.key.PubKey().SerializeUncompressed()
	b.address = "0x" + hex.EncodeToString(keccak256(pub[1:])[12:])

	addr := b.address
	b.nonces = NewNonceSource(func(ctx context.Context) (uint64, error) {
		return fetch(ctx, addr)
	})

	return b, nil
}

// Address returns the 0x prefixed account address of the signing key.
func (b *Builder) Address() string {
	return b.address
}

// anchorCallData encodes the anchor contract call: 4 byte method selector,
// the 32 byte digest, and the institution id as a 32 byte big-endian word.
func anchorCallData(digest [sha256.Size]byte, institutionID uint64) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, keccak256([]byte(anchorMethod))[:4]...)
	data = append(data, digest[:]...)
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], institutionID)
	data = append(data, word[:]...)
	return data
}

// Build assembles the unsigned anchoring transaction for the provided
// digest, institution and nonce.
func (b *Builder) Build(digest [sha256.Size]byte, institutionID, nonce uint64) *UnsignedTx {
	return &UnsignedTx{
		Nonce:    nonce,
		GasPrice: b.gasPrice,
		Gas:      b.gasLimit,
		To:       b.contract,
		Value:    new(big.Int),
		Data:     anchorCallData(digest, institutionID),
	}
}

// sigHash returns the EIP-155 signing hash of tx.
func sigHash(tx *UnsignedTx, chainID *big.Int) []byte {
	return keccak256(rlpList(
		rlpUint(tx.Nonce),
		rlpBig(tx.GasPrice),
		rlpUint(tx.Gas),
		rlpBytes(tx.To[:]),
		rlpBig(tx.Value),
		rlpBytes(tx.Data),
		rlpBig(chainID),
		rlpBytes(nil),
		rlpBytes(nil),
	))
}

// Sign signs tx with the builder's key and returns the serialized
// transaction ready for submission along with its hash.
func (b *Builder) Sign(tx *UnsignedTx) ([]byte, chainhash.Hash, error) {
	var txid chainhash.Hash

	hash := sigHash(tx, b.chainID)
	compact := ecdsa.SignCompact(b.key, hash, false)
	if len(compact) != 65 {
		return nil, txid, fmt.Errorf("unexpected signature length: %v",
			len(compact))
	}

	// Compact signatures lead with the recovery code; fold it into the
	// EIP-155 v value.
	recID := uint64(compact[0] - 27)
	v := new(big.Int).SetUint64(recID + 35)
	v.Add(v, new(big.Int).Lsh(b.chainID, 1))
	r := new(big.Int).SetBytes(compact[1:33])
	s := new(big.Int).SetBytes(compact[33:65])

	raw := rlpList(
		rlpUint(tx.Nonce),
		rlpBig(tx.GasPrice),
		rlpUint(tx.Gas),
		rlpBytes(tx.To[:]),
		rlpBig(tx.Value),
		rlpBytes(tx.Data),
		rlpBig(v),
		rlpBig(r),
		rlpBig(s),
	)
	copy(txid[:], keccak256(raw))

	log.Tracef("Signed tx %x nonce %v", txid[:], tx.Nonce)
	return raw, txid, nil
}

// AnchorTx builds and signs an anchoring transaction in one step.
func (b *Builder) AnchorTx(digest [sha256.Size]byte, institutionID, nonce uint64) ([]byte, chainhash.Hash, error) {
	return b.Sign(b.Build(digest, institutionID, nonce))
}

// NextNonce allocates the next nonce for the builder's key.
func (b *Builder) NextNonce(ctx context.Context) (uint64, error) {
	return b.nonces.Next(ctx)
}

// InvalidateNonce forces the next allocation to re-seed from the chain.
// Called after the node rejects a transaction over a stale nonce.
func (b *Builder) InvalidateNonce() {
	b.nonces.Invalidate()
}
