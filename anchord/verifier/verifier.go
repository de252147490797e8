// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package verifier turns anchor records into verification verdicts.  A
// digest verifies if and only if its anchoring transaction is confirmed on
// the chain; nothing is ever inferred from the digest itself.
package verifier

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/academiaveritas/anchord/anchord/chainclient"
	"github.com/academiaveritas/anchord/anchord/tracker"
)

// RecordSource supplies anchor records by digest.
type RecordSource interface {
	Status(digest [sha256.Size]byte) (*tracker.AnchorRecord, error)
}

// Chain is the slice of the chain client used for stale record
// revalidation.
type Chain interface {
	Confirmations(ctx context.Context, tx chainhash.Hash) (int64, *chainclient.Receipt, error)
}

// Config tunes the verifier.
type Config struct {
	// MaxRecordAge is how long a confirmed record is trusted without
	// re-checking the chain, to catch reorganizations.  Zero disables
	// revalidation.
	MaxRecordAge time.Duration
}

// Result is the verification verdict for a digest.  It is derived on
// demand, never stored.
type Result struct {
	Verified       bool
	Tx             chainhash.Hash
	BlockNumber    uint64
	ChainTimestamp int64
	Message        string
}

// Verifier answers verification queries from recorded and live chain state.
type Verifier struct {
	records RecordSource
	chain   Chain
	maxAge  time.Duration

	myNow func() time.Time // Override time.Now() during tests
}

// New returns a Verifier.  chain may be nil when revalidation is disabled.
func New(records RecordSource, chain Chain, cfg Config) *Verifier {
	return &Verifier{
		records: records,
		chain:   chain,
		maxAge:  cfg.MaxRecordAge,
		myNow:   time.Now,
	}
}

// Verify returns the verdict for the provided digest.
func (v *Verifier) Verify(ctx context.Context, digest [sha256.Size]byte) (*Result, error) {
	r, err := v.records.Status(digest)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return &Result{
				Message: "digest has never been anchored",
			}, nil
		}
		return nil, err
	}

	switch r.Status {
	case tracker.StatusPending:
		return &Result{
			Tx: r.Tx,
			Message: fmt.Sprintf("anchor pending confirmation "+
				"(attempt %v)", r.Attempts),
		}, nil
	case tracker.StatusFailed:
		return &Result{
			Tx:      r.Tx,
			Message: "anchoring failed: " + r.Message,
		}, nil
	}

	res := &Result{
		Verified:       true,
		Tx:             r.Tx,
		BlockNumber:    r.BlockNumber,
		ChainTimestamp: r.ChainTimestamp,
		Message:        "anchored",
	}

	// Old confirmations get re-checked against the live chain so a deep
	// reorganization cannot leave us vouching for a vanished
	// transaction.
	stale := v.maxAge > 0 &&
		v.myNow().Unix()-r.ConfirmedAt > int64(v.maxAge/time.Second)
	if !stale || v.chain == nil {
		return res, nil
	}

	_, receipt, err := v.chain.Confirmations(ctx, r.Tx)
	switch {
	case errors.Is(err, chainclient.ErrNotFound):
		log.Warnf("Verify %x: tx %v missing from chain", digest,
			chainclient.HashHex(r.Tx))
		return &Result{
			Tx:      r.Tx,
			Message: "anchor transaction no longer on chain",
		}, nil
	case err != nil:
		// Revalidation is best effort; the durable record stands.
		log.Warnf("Verify %x: revalidation: %v", digest, err)
		return res, nil
	}

	res.BlockNumber = receipt.BlockNumber
	res.ChainTimestamp = receipt.BlockTime
	return res, nil
}
