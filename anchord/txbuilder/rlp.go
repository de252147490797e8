// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import "math/big"

// Minimal RLP writer.  Only the forms a legacy transaction needs: byte
// strings, unsigned integers and flat lists.

// beTrim returns the minimal big-endian representation of v; empty for zero.
func beTrim(v uint64) []byte {
	b := make([]byte, 0, 8)
	for shift := 56; shift >= 0; shift -= 8 {
		octet := byte(v >> uint(shift))
		if len(b) == 0 && octet == 0 {
			continue
		}
		b = append(b, octet)
	}
	return b
}

// rlpLength encodes a payload length with the provided type offset (0x80 for
// strings, 0xc0 for lists).
func rlpLength(length int, offset byte) []byte {
	if length < 56 {
		return []byte{offset + byte(length)}
	}
	be := beTrim(uint64(length))
	return append([]byte{offset + 55 + byte(len(be))}, be...)
}

// rlpBytes encodes a byte string.
func rlpBytes(data []byte) []byte {
	if len(data) == 1 && data[0] < 0x80 {
		return data
	}
	return append(rlpLength(len(data), 0x80), data...)
}

// rlpUint encodes an unsigned integer as its minimal big-endian bytes.
func rlpUint(v uint64) []byte {
	return rlpBytes(beTrim(v))
}

// rlpBig encodes a non-negative big integer.  nil encodes as zero.
func rlpBig(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return rlpBytes(nil)
	}
	return rlpBytes(v.Bytes())
}

// rlpList encodes a list of already encoded items.
func rlpList(items ...[]byte) []byte {
	var payload []byte
	for _, item := range items {
		payload = append(payload, item...)
	}
	return append(rlpLength(len(payload), 0xc0), payload...)
}
