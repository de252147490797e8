// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well known replay protection test vector: key 0x4646...46, chain id 1.
const (
	vectorKey     = "4646464646464646464646464646464646464646464646464646464646464646"
	vectorAddress = "0x9d8a62f656a8d1615c1294fd71e9cfb3e4855a4f"
	vectorSigHash = "daf5a779ae972f972197303d7b574746c7ef83eadac0f2791ad23db92e4c8e53"
	vectorRawTx   = "f86c098504a817c800825208943535353535353535353535353535353535" +
		"353535880de0b6b3a764000080" +
		"25a028ef61340bd939bc2195fe537567866003e1a15d3c71ff63e159062" +
		"0aa636276a067cbe9d8997f761aecb703304b3800ccf555c9f3dc64214b" +
		"297fb1966a3b6d83"
)

func noFetch(ctx context.Context, addr string) (uint64, error) {
	return 0, nil
}

func vectorBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := New(&Config{
		SigningKey: vectorKey,
		ChainID:    1,
		Contract:   "0x3535353535353535353535353535353535353535",
	}, noFetch)
	require.NoError(t, err)
	return b
}

func vectorTx() *UnsignedTx {
	var to [20]byte
	for i := range to {
		to[i] = 0x35
	}
	value, _ := new(big.Int).SetString("1000000000000000000", 10)
	return &UnsignedTx{
		Nonce:    9,
		GasPrice: big.NewInt(20000000000),
		Gas:      21000,
		To:       to,
		Value:    value,
	}
}

func TestRLPVectors(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"empty string", rlpBytes(nil), "80"},
		{"single low byte", rlpBytes([]byte{0x0f}), "0f"},
		{"dog", rlpBytes([]byte("dog")), "83646f67"},
		{"zero uint", rlpUint(0), "80"},
		{"1024", rlpUint(1024), "820400"},
		{"cat dog list",
			rlpList(rlpBytes([]byte("cat")), rlpBytes([]byte("dog"))),
			"c88363617483646f67"},
		{"empty list", rlpList(), "c0"},
		{"long string",
			rlpBytes([]byte("Lorem ipsum dolor sit amet, consectetur adipisicing elit")),
			"b8384c6f72656d20697073756d20646f6c6f722073697420616d65742c20636f6e7365637465747572206164697069736963696e6720656c6974"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, hex.EncodeToString(test.got),
			test.name)
	}
}

func TestAddressDerivation(t *testing.T) {
	b := vectorBuilder(t)
	assert.Equal(t, vectorAddress, b.Address())
}

func TestSigHashVector(t *testing.T) {
	got := sigHash(vectorTx(), big.NewInt(1))
	assert.Equal(t, vectorSigHash, hex.EncodeToString(got))
}

func TestSignVector(t *testing.T) {
	b := vectorBuilder(t)
	raw, txid, err := b.Sign(vectorTx())
	require.NoError(t, err)
	assert.Equal(t, vectorRawTx, hex.EncodeToString(raw))

	// Hash of the serialized tx is the txid.
	want := keccak256(raw)
	assert.Equal(t, hex.EncodeToString(want),
		hex.EncodeToString(txid[:]))
}

func TestAnchorCallData(t *testing.T) {
	var digest [32]byte
	digest[0] = 0xa3
	digest[31] = 0x80

	data := anchorCallData(digest, 7)
	require.Len(t, data, 4+32+32)
	assert.Equal(t, digest[:], data[4:36])
	// Institution id sits big-endian in the final word.
	assert.Equal(t, byte(7), data[67])
	for _, b := range data[36:67] {
		assert.Equal(t, byte(0), b)
	}
	// Selector is the head of the keccak of the method signature.
	assert.Equal(t, keccak256([]byte(anchorMethod))[:4], data[:4])
}

func TestBuild(t *testing.T) {
	b := vectorBuilder(t)
	var digest [32]byte
	tx := b.Build(digest, 7, 3)
	assert.Equal(t, uint64(3), tx.Nonce)
	assert.Equal(t, uint64(defaultGasLimit), tx.Gas)
	assert.Equal(t, 0, tx.GasPrice.Cmp(defaultGasPrice))
	assert.Equal(t, 0, tx.Value.Sign())
	assert.Len(t, tx.Data, 68)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(&Config{
		ChainID:  1,
		Contract: "0x3535353535353535353535353535353535353535",
	}, noFetch)
	require.True(t, errors.Is(err, ErrNoKey))

	_, err = New(&Config{
		SigningKey: "abcd",
		ChainID:    1,
		Contract:   "0x3535353535353535353535353535353535353535",
	}, noFetch)
	require.Error(t, err)
}
