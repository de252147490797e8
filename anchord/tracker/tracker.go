// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package tracker drives anchor submissions through their lifecycle:
// Pending until the anchoring transaction is confirmed on the chain, then
// Confirmed, or Failed once retries are exhausted or the node permanently
// rejects the transaction.  Records are keyed by digest and resubmission of
// a known digest is a no-op that returns the stored record.
package tracker

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/robfig/cron"

	"github.com/academiaveritas/anchord/anchord/chainclient"
)

// Chain is the slice of the chain client the tracker needs.
type Chain interface {
	SubmitRawTransaction(ctx context.Context, rawTx []byte) (chainhash.Hash, error)
	Confirmations(ctx context.Context, tx chainhash.Hash) (int64, *chainclient.Receipt, error)
}

// TxBuilder is the slice of the transaction builder the tracker needs.
type TxBuilder interface {
	AnchorTx(digest [sha256.Size]byte, institutionID, nonce uint64) ([]byte, chainhash.Hash, error)
	NextNonce(ctx context.Context) (uint64, error)
	InvalidateNonce()
}

// Config tunes retry and confirmation behavior.  Zero values select the
// defaults.
type Config struct {
	Confirmations int64         // Blocks required to call a tx final
	MaxAttempts   int           // Submission attempts before Failed
	BackoffBase   time.Duration // First retry delay
	BackoffCap    time.Duration // Retry delay ceiling
	PollInterval  time.Duration // Receipt poll cadence
	PollSchedule  string        // Cron spec for the reconciler
}

const (
	defaultConfirmations = 1
	defaultMaxAttempts   = 5
	defaultBackoffBase   = time.Second
	defaultBackoffCap    = time.Minute
	defaultPollInterval  = 15 * time.Second

	// Seconds Minutes Hours Days Months DayOfWeek
	defaultPollSchedule = "0 * * * * *" // Once a minute
)

// Tracker owns the anchor record store.  All state transitions go through
// its mutex so that two concurrent retries can never double-confirm or
// double-fail the same record.
type Tracker struct {
	mu       sync.Mutex // Guards store transitions and inflight
	store    *Store
	chain    Chain
	builder  TxBuilder
	cfg      Config
	cron     *cron.Cron // Scheduler for the reconciler
	inflight map[[sha256.Size]byte]struct{}

	reconcileMu sync.Mutex // Serializes reconciler runs

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	myNow func() time.Time // Override time.Now() during tests
}

// New returns a Tracker over the provided store, chain client and builder.
// The caller should issue a Close once the tracker is no longer needed.
func New(store *Store, chain Chain, builder TxBuilder, cfg Config) *Tracker {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = defaultConfirmations
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = defaultPollSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:    store,
		chain:    chain,
		builder:  builder,
		cfg:      cfg,
		cron:     cron.New(),
		inflight: make(map[[sha256.Size]byte]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		myNow:    time.Now,
	}
}

// Start launches the periodic reconciler.  The reconciler picks up pending
// records whose local polling died with a previous process and records whose
// transaction confirmed after the submitter went away.
func (t *Tracker) Start() error {
	err := t.cron.AddFunc(t.cfg.PollSchedule, t.Reconcile)
	if err != nil {
		return err
	}
	t.cron.Start()

	// Reconcile whatever the previous run left pending.
	t.Reconcile()
	return nil
}

// Close stops background work and closes the record store.
func (t *Tracker) Close() {
	t.cancel()
	t.cron.Stop()
	t.wg.Wait()
	t.store.Close()
	log.Infof("Exiting")
}

// Submit anchors the provided digest for the institution.  It is idempotent
// per digest: a record in any state short-circuits without re-contacting the
// chain.  For a fresh digest the pending record is returned immediately and
// the submission is driven to a terminal state in the background.
func (t *Tracker) Submit(ctx context.Context, digest [sha256.Size]byte, institutionID uint64) (*AnchorRecord, error) {
	t.mu.Lock()
	r, err := t.store.Get(digest)
	if err == nil {
		t.mu.Unlock()
		log.Debugf("Submit %x: existing record %v",
			digest, r.Status)
		rc := *r
		return &rc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		t.mu.Unlock()
		return nil, err
	}

	r = &AnchorRecord{
		Digest:        digest,
		InstitutionID: institutionID,
		Status:        StatusPending,
		SubmittedAt:   t.myNow().Unix(),
		Message:       "submission accepted",
	}
	if err := t.store.Put(r); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.inflight[digest] = struct{}{}
	t.mu.Unlock()

	log.Infof("Anchor %x: institution %v accepted", digest, institutionID)

	t.wg.Add(1)
	go t.drive(digest, institutionID)

	rc := *r
	return &rc, nil
}

// Status returns the record for the provided digest or ErrNotFound if it
// was never submitted.
func (t *Tracker) Status(digest [sha256.Size]byte) (*AnchorRecord, error) {
	r, err := t.store.Get(digest)
	if err != nil {
		return nil, err
	}
	rc := *r
	return &rc, nil
}

// LastAnchor returns the most recently confirmed record, or ErrNotFound if
// nothing has confirmed yet.
func (t *Tracker) LastAnchor() (*AnchorRecord, error) {
	var last *AnchorRecord
	err := t.store.ForEach(func(r *AnchorRecord) error {
		if r.Status != StatusConfirmed {
			return nil
		}
		if last == nil || r.ConfirmedAt > last.ConfirmedAt {
			rc := *r
			last = &rc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	return last, nil
}

// drive pushes one digest from Pending to a terminal state: build, sign and
// submit with backoff across transient failures, then poll for
// confirmations.
func (t *Tracker) drive(digest [sha256.Size]byte, institutionID uint64) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inflight, digest)
		t.mu.Unlock()
	}()

	backoff := t.cfg.BackoffBase
	for attempt := 1; ; attempt++ {
		if t.ctx.Err() != nil {
			return
		}
		t.bumpAttempts(digest, attempt)

		nonce, err := t.builder.NextNonce(t.ctx)
		if err != nil {
			if !t.retry(digest, attempt, &backoff, err) {
				return
			}
			continue
		}

		raw, txid, err := t.builder.AnchorTx(digest, institutionID,
			nonce)
		if err != nil {
			// Signing problems don't get better on retry.
			t.fail(digest, chainhash.Hash{},
				fmt.Sprintf("sign transaction: %v", err))
			return
		}

		broadcast, err := t.chain.SubmitRawTransaction(t.ctx, raw)
		if err != nil {
			if chainclient.IsNonceConflict(err) {
				log.Debugf("Anchor %x: stale nonce %v, "+
					"resyncing", digest, nonce)
				t.builder.InvalidateNonce()
			} else if !chainclient.IsTransient(err) {
				t.fail(digest, txid,
					fmt.Sprintf("transaction rejected: %v",
						err))
				return
			}
			if !t.retry(digest, attempt, &backoff, err) {
				return
			}
			continue
		}

		log.Infof("Anchor %x: broadcast tx %v nonce %v attempt %v",
			digest, chainclient.HashHex(broadcast), nonce, attempt)
		t.setBroadcast(digest, broadcast)
		t.await(digest, broadcast)
		return
	}
}

// retry sleeps for the current backoff and reports whether another attempt
// should be made.  When attempts are exhausted the record is failed.
func (t *Tracker) retry(digest [sha256.Size]byte, attempt int, backoff *time.Duration, cause error) bool {
	if attempt >= t.cfg.MaxAttempts {
		t.fail(digest, chainhash.Hash{},
			fmt.Sprintf("gave up after %v attempts: %v", attempt,
				cause))
		return false
	}

	log.Debugf("Anchor %x: attempt %v failed, retrying in %v: %v",
		digest, attempt, *backoff, cause)
	select {
	case <-time.After(*backoff):
	case <-t.ctx.Done():
		return false
	}
	*backoff *= 2
	if *backoff > t.cfg.BackoffCap {
		*backoff = t.cfg.BackoffCap
	}
	return true
}

// await polls the chain until the broadcast transaction reaches the
// configured confirmation depth.  Transient lookup failures just mean
// another lap; if the process dies here the reconciler finishes the job.
func (t *Tracker) await(digest [sha256.Size]byte, txid chainhash.Hash) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		confs, receipt, err := t.chain.Confirmations(t.ctx, txid)
		switch {
		case err == nil && confs >= t.cfg.Confirmations:
			t.settle(digest, receipt)
			return
		case err == nil || errors.Is(err, chainclient.ErrNotFound):
			// Not mined deep enough yet.
		default:
			log.Warnf("Anchor %x: receipt lookup: %v", digest, err)
		}

		select {
		case <-ticker.C:
		case <-t.ctx.Done():
			return
		}
	}
}

// settle moves a record with a sufficiently confirmed receipt to its
// terminal state: Confirmed normally, Failed if the anchor call reverted.
func (t *Tracker) settle(digest [sha256.Size]byte, receipt *chainclient.Receipt) {
	if receipt.Status == 0 {
		t.fail(digest, receipt.TxHash, "anchor transaction reverted")
		return
	}
	t.confirm(digest, receipt)
}

// bumpAttempts records the attempt counter on the pending record.
func (t *Tracker) bumpAttempts(digest [sha256.Size]byte, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.store.Get(digest)
	if err != nil || r.Status != StatusPending {
		return
	}
	r.Attempts = attempt
	if err := t.store.Put(r); err != nil {
		log.Errorf("Anchor %x: record attempt %v: %v", digest, attempt,
			err)
	}
}

// setBroadcast records the broadcast transaction hash on the pending record.
func (t *Tracker) setBroadcast(digest [sha256.Size]byte, txid chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.store.Get(digest)
	if err != nil || r.Status != StatusPending {
		return
	}
	r.Tx = txid
	r.Message = "broadcast, awaiting confirmation"
	if err := t.store.Put(r); err != nil {
		log.Errorf("Anchor %x: record broadcast: %v", digest, err)
	}
}

// confirm transitions Pending -> Confirmed.  Terminal states are final; a
// record that already settled is left untouched.
func (t *Tracker) confirm(digest [sha256.Size]byte, receipt *chainclient.Receipt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.store.Get(digest)
	if err != nil {
		log.Errorf("Anchor %x: confirm lookup: %v", digest, err)
		return
	}
	if r.Status != StatusPending {
		log.Debugf("Anchor %x: already %v, ignoring confirm", digest,
			r.Status)
		return
	}

	r.Status = StatusConfirmed
	r.Tx = receipt.TxHash
	r.BlockNumber = receipt.BlockNumber
	r.ChainTimestamp = receipt.BlockTime
	r.ConfirmedAt = t.myNow().Unix()
	r.Message = "anchored"
	if err := t.store.Put(r); err != nil {
		log.Errorf("Anchor %x: record confirm: %v", digest, err)
		return
	}

	log.Infof("Anchor %x: confirmed tx %v block %v", digest,
		chainclient.HashHex(receipt.TxHash), receipt.BlockNumber)
}

// fail transitions Pending -> Failed.  The last broadcast transaction hash,
// if any, is preserved so the caller can reconcile manually.
func (t *Tracker) fail(digest [sha256.Size]byte, txid chainhash.Hash, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.store.Get(digest)
	if err != nil {
		log.Errorf("Anchor %x: fail lookup: %v", digest, err)
		return
	}
	if r.Status != StatusPending {
		log.Debugf("Anchor %x: already %v, ignoring fail", digest,
			r.Status)
		return
	}

	r.Status = StatusFailed
	r.Message = message
	if txid != (chainhash.Hash{}) {
		r.Tx = txid
	}
	if err := t.store.Put(r); err != nil {
		log.Errorf("Anchor %x: record fail: %v", digest, err)
		return
	}

	log.Warnf("Anchor %x: failed: %v", digest, message)
}

// Reconcile walks all pending records and settles the ones whose
// transaction has since confirmed; pending records that lost their driver
// (daemon restart) are resubmitted.  Runs are serialized; overlapping
// invocations collapse into one.
func (t *Tracker) Reconcile() {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	type pending struct {
		digest        [sha256.Size]byte
		institutionID uint64
		tx            chainhash.Hash
	}
	var work []pending
	err := t.store.ForEach(func(r *AnchorRecord) error {
		if r.Status == StatusPending {
			work = append(work, pending{
				digest:        r.Digest,
				institutionID: r.InstitutionID,
				tx:            r.Tx,
			})
		}
		return nil
	})
	if err != nil {
		log.Errorf("Reconcile: %v", err)
		return
	}

	for _, p := range work {
		if t.ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		_, busy := t.inflight[p.digest]
		t.mu.Unlock()
		if busy {
			continue
		}

		if p.tx == (chainhash.Hash{}) {
			// Never broadcast; restart the submission.
			log.Infof("Reconcile %x: resuming submission",
				p.digest)
			t.mu.Lock()
			t.inflight[p.digest] = struct{}{}
			t.mu.Unlock()
			t.wg.Add(1)
			go t.drive(p.digest, p.institutionID)
			continue
		}

		confs, receipt, err := t.chain.Confirmations(t.ctx, p.tx)
		if err != nil {
			if !errors.Is(err, chainclient.ErrNotFound) {
				log.Warnf("Reconcile %x: %v", p.digest, err)
			}
			continue
		}
		if confs >= t.cfg.Confirmations {
			log.Infof("Reconcile %x: tx %v confirmed", p.digest,
				chainclient.HashHex(p.tx))
			t.settle(p.digest, receipt)
		}
	}
}
