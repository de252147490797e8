// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package tracker

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Status is the lifecycle state of an anchor record.  Confirmed and Failed
// are terminal; a record never transitions out of them.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

// String returns the wire representation of s.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// AnchorRecord is the durable audit record of one anchoring attempt chain
// for a digest.  There is exactly one record per digest and records are
// never deleted.  Tx only becomes meaningful once a transaction has been
// broadcast; BlockNumber and ChainTimestamp once it is mined.
type AnchorRecord struct {
	Digest         [sha256.Size]byte `json:"digest"`
	InstitutionID  uint64            `json:"institutionid"`
	Tx             chainhash.Hash    `json:"tx"`
	Status         Status            `json:"status"`
	BlockNumber    uint64            `json:"blocknumber"`
	ChainTimestamp int64             `json:"chaintimestamp"`
	SubmittedAt    int64             `json:"submittedat"`
	ConfirmedAt    int64             `json:"confirmedat"`
	Attempts       int               `json:"attempts"`
	Message        string            `json:"message"`
}

// EncodeAnchorRecord encodes the given AnchorRecord to a []byte.
func EncodeAnchorRecord(r AnchorRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeAnchorRecord decodes the given []byte payload to an AnchorRecord.
func DecodeAnchorRecord(payload []byte) (*AnchorRecord, error) {
	var r AnchorRecord
	err := json.Unmarshal(payload, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
