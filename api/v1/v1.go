// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"fmt"
	"regexp"
)

const (
	// APIVersion defines the version number for this code.
	APIVersion = 1

	// ResultOK indicates the operation completed successfully.
	ResultOK = 0

	// ResultInvalidError indicates the request carried a malformed digest
	// or institution id and was rejected before any chain work.
	ResultInvalidError = 1

	// ResultDoesntExistError indicates the digest has never been
	// submitted for anchoring.
	ResultDoesntExistError = 2

	// DefaultMainnetPort indicates the default mainnet anchord port.
	DefaultMainnetPort = "49172"

	// DefaultTestnetPort indicates the default testnet anchord port.
	DefaultTestnetPort = "59172"
)

// Record status strings as they appear on the wire.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

var (
	// RoutePrefix is the route url prefix for this version.
	RoutePrefix = fmt.Sprintf("/v%v", APIVersion)

	// StatusRoute defines the API route for retrieving the server status.
	StatusRoute = RoutePrefix + "/status/"

	// AnchorRoute defines the API route for submitting a certificate
	// digest for anchoring.
	AnchorRoute = RoutePrefix + "/anchor/"

	// VerifyRoute defines the API route for digest verification.
	VerifyRoute = RoutePrefix + "/verify/"

	// LastAnchorRoute defines the API route for retrieving info about the
	// last confirmed anchor, such as chain timestamp, block number and tx
	// id.
	LastAnchorRoute = RoutePrefix + "/last"

	// Result defines legible string messages to an anchoring/query result
	// code.
	Result = map[int]string{
		ResultOK:               "OK",
		ResultInvalidError:     "Invalid",
		ResultDoesntExistError: "Doesn't exist",
	}

	// RegexpSHA256 is the valid text representation of a sha256 digest.
	RegexpSHA256 = regexp.MustCompile("^[A-Fa-f0-9]{64}$")
)

// Status is used to ask the server if everything is running properly.
// ID is user settable and can be used as a unique identifier by the client.
type Status struct {
	ID string `json:"id"`
}

// StatusReply is returned by the server if everything is running properly.
type StatusReply struct {
	ID string `json:"id"`
}

// Anchor is used to ask the server to anchor a single certificate digest on
// the chain on behalf of an institution.  ID is user settable and can be used
// as a unique identifier by the client.
type Anchor struct {
	ID            string `json:"id"`
	Digest        string `json:"digest"`
	InstitutionID uint64 `json:"institutionid"`
}

// AnchorRecord is the wire representation of a tracked anchor.  Transaction
// is only set once the anchoring transaction has been broadcast; BlockNumber
// and ChainTimestamp once it has been mined.
type AnchorRecord struct {
	Digest         string `json:"digest"`
	InstitutionID  uint64 `json:"institutionid"`
	Status         string `json:"status"`
	Transaction    string `json:"transaction,omitempty"`
	BlockNumber    uint64 `json:"blocknumber,omitempty"`
	ChainTimestamp int64  `json:"chaintimestamp,omitempty"`
	SubmittedAt    int64  `json:"submittedat"`
	ConfirmedAt    int64  `json:"confirmedat,omitempty"`
	Attempts       int    `json:"attempts"`
	Message        string `json:"message,omitempty"`
}

// AnchorReply is returned by the server after an anchor submission.  ID is
// copied from the originating Anchor call.  Result is ResultOK both for a
// fresh submission and for an idempotent resubmission of a known digest; the
// record distinguishes the two.
type AnchorReply struct {
	ID     string       `json:"id"`
	Result int          `json:"result"`
	Record AnchorRecord `json:"record"`
}

// Verify is used to ask the server whether a certificate digest is anchored
// on the chain.
type Verify struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
}

// VerifyReply is returned by the server with the verification verdict for
// the digest.  Verified is only true for digests whose anchoring transaction
// is confirmed on the chain; Message carries a human readable explanation
// otherwise.
type VerifyReply struct {
	ID             string `json:"id"`
	Verified       bool   `json:"verified"`
	Transaction    string `json:"transaction,omitempty"`
	BlockNumber    uint64 `json:"blocknumber,omitempty"`
	ChainTimestamp int64  `json:"chaintimestamp,omitempty"`
	Message        string `json:"message"`
}

// LastAnchorReply is returned by the server with information about the most
// recently confirmed anchor.
type LastAnchorReply struct {
	Digest         string `json:"digest"`
	Transaction    string `json:"transaction"`
	BlockNumber    uint64 `json:"blocknumber"`
	ChainTimestamp int64  `json:"chaintimestamp"`
}
