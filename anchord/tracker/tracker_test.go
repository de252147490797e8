// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/academiaveritas/anchord/anchord/chainclient"
)

// fakeChain is a scripted Chain.  submitErrs are consumed one per
// SubmitRawTransaction call; a nil entry (or an exhausted script) means
// success.
type fakeChain struct {
	mu         sync.Mutex
	submitErrs []error
	submits    int
	confs      int64
	status     uint64
	confErr    error
}

func newFakeChain() *fakeChain {
	return &fakeChain{confs: 1, status: 1}
}

func (c *fakeChain) SubmitRawTransaction(ctx context.Context, rawTx []byte) (chainhash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	if len(c.submitErrs) > 0 {
		err := c.submitErrs[0]
		c.submitErrs = c.submitErrs[1:]
		if err != nil {
			return chainhash.Hash{}, err
		}
	}
	return chainhash.Hash(sha256.Sum256(rawTx)), nil
}

func (c *fakeChain) Confirmations(ctx context.Context, tx chainhash.Hash) (int64, *chainclient.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confErr != nil {
		return 0, nil, c.confErr
	}
	return c.confs, &chainclient.Receipt{
		TxHash:      tx,
		BlockNumber: 42,
		BlockTime:   1700000000,
		Status:      c.status,
	}, nil
}

func (c *fakeChain) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// fakeBuilder hands out sequential nonces and derives deterministic
// transactions from its inputs.
type fakeBuilder struct {
	mu            sync.Mutex
	next          uint64
	signErr       error
	invalidations int
}

func (b *fakeBuilder) NextNonce(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.next
	b.next++
	return v, nil
}

func (b *fakeBuilder) InvalidateNonce() {
	b.mu.Lock()
	b.invalidations++
	b.mu.Unlock()
}

func (b *fakeBuilder) AnchorTx(digest [sha256.Size]byte, institutionID, nonce uint64) ([]byte, chainhash.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signErr != nil {
		return nil, chainhash.Hash{}, b.signErr
	}
	raw := append([]byte{}, digest[:]...)
	raw = append(raw, byte(institutionID), byte(nonce))
	return raw, chainhash.Hash(sha256.Sum256(raw)), nil
}

func newTestTracker(t *testing.T, chain Chain, builder TxBuilder) *Tracker {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tr := New(store, chain, builder, Config{
		Confirmations: 1,
		MaxAttempts:   5,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		PollInterval:  time.Millisecond,
	})
	t.Cleanup(tr.Close)
	return tr
}

func testDigest(t *testing.T, prefix string) [sha256.Size]byte {
	t.Helper()
	s := prefix + strings.Repeat("0", 64-len(prefix))
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	var d [sha256.Size]byte
	copy(d[:], b)
	return d
}

// waitStatus polls until the record for digest reaches want.
func waitStatus(t *testing.T, tr *Tracker, digest [sha256.Size]byte, want Status) *AnchorRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := tr.Status(digest)
		if err == nil && r.Status == want {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	r, err := tr.Status(digest)
	t.Fatalf("record never reached %v: record %v err %v", want, r, err)
	return nil
}

func TestEncodeDecode(t *testing.T) {
	r := AnchorRecord{
		Digest:         testDigest(t, "a3f1"),
		InstitutionID:  7,
		Status:         StatusConfirmed,
		BlockNumber:    123456,
		ChainTimestamp: 1700000000,
		SubmittedAt:    1699999990,
		ConfirmedAt:    1700000010,
		Attempts:       2,
		Message:        "anchored",
	}
	r.Tx[0] = 0xde

	blob, err := EncodeAnchorRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := DecodeAnchorRecord(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r, *r2) {
		t.Fatalf("want %v got %v", spew.Sdump(r), spew.Sdump(*r2))
	}
}

func TestSubmitConfirm(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{next: 10})
	digest := testDigest(t, "a3f1")

	r, err := tr.Submit(context.Background(), digest, 7)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusPending {
		t.Fatalf("fresh submission status %v", r.Status)
	}

	r = waitStatus(t, tr, digest, StatusConfirmed)
	if r.Tx == (chainhash.Hash{}) {
		t.Fatal("confirmed record has no transaction")
	}
	if r.BlockNumber != 42 || r.ChainTimestamp != 1700000000 {
		t.Fatalf("bad proof data: %v", spew.Sdump(r))
	}
	if r.Attempts != 1 {
		t.Fatalf("attempts = %v, want 1", r.Attempts)
	}
	if r.InstitutionID != 7 {
		t.Fatalf("institution = %v, want 7", r.InstitutionID)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "01")

	_, err := tr.Submit(context.Background(), digest, 3)
	if err != nil {
		t.Fatal(err)
	}
	first := waitStatus(t, tr, digest, StatusConfirmed)
	submits := chain.submitCount()

	again, err := tr.Submit(context.Background(), digest, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Fatalf("resubmission altered record:\n%v\n%v",
			spew.Sdump(first), spew.Sdump(again))
	}
	if chain.submitCount() != submits {
		t.Fatal("resubmission contacted the chain")
	}
}

func TestRetryTransientThenConfirm(t *testing.T) {
	chain := newFakeChain()
	chain.submitErrs = []error{
		errors.New("i/o timeout"),
		errors.New("connection reset"),
		nil,
	}
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "02")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	r := waitStatus(t, tr, digest, StatusConfirmed)
	if r.Attempts != 3 {
		t.Fatalf("attempts = %v, want 3", r.Attempts)
	}
}

func TestPermanentRejection(t *testing.T) {
	chain := newFakeChain()
	chain.submitErrs = []error{
		&chainclient.RPCError{Code: -32000,
			Message: "invalid sender signature"},
	}
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "03")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	r := waitStatus(t, tr, digest, StatusFailed)
	if r.Attempts != 1 {
		t.Fatalf("attempts = %v, want 1", r.Attempts)
	}
	if !strings.Contains(r.Message, "invalid sender signature") {
		t.Fatalf("message lacks rejection reason: %q", r.Message)
	}
}

func TestExhaustRetries(t *testing.T) {
	chain := newFakeChain()
	chain.submitErrs = []error{
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	}
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tr := New(store, chain, &fakeBuilder{}, Config{
		Confirmations: 1,
		MaxAttempts:   2,
		BackoffBase:   time.Millisecond,
		BackoffCap:    time.Millisecond,
		PollInterval:  time.Millisecond,
	})
	defer tr.Close()

	digest := testDigest(t, "04")
	_, err = tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	r := waitStatus(t, tr, digest, StatusFailed)
	if !strings.Contains(r.Message, "gave up after 2 attempts") {
		t.Fatalf("unexpected message: %q", r.Message)
	}
}

func TestNonceConflictResync(t *testing.T) {
	chain := newFakeChain()
	chain.submitErrs = []error{
		&chainclient.RPCError{Code: -32000, Message: "nonce too low"},
		nil,
	}
	builder := &fakeBuilder{}
	tr := newTestTracker(t, chain, builder)
	digest := testDigest(t, "05")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tr, digest, StatusConfirmed)

	builder.mu.Lock()
	invalidations := builder.invalidations
	builder.mu.Unlock()
	if invalidations != 1 {
		t.Fatalf("invalidations = %v, want 1", invalidations)
	}
}

func TestSigningErrorFailsImmediately(t *testing.T) {
	chain := newFakeChain()
	builder := &fakeBuilder{signErr: errors.New("key unavailable")}
	tr := newTestTracker(t, chain, builder)
	digest := testDigest(t, "06")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	r := waitStatus(t, tr, digest, StatusFailed)
	if !strings.Contains(r.Message, "key unavailable") {
		t.Fatalf("unexpected message: %q", r.Message)
	}
	if chain.submitCount() != 0 {
		t.Fatal("unsignable transaction reached the chain")
	}
}

func TestRevertedTransactionFails(t *testing.T) {
	chain := newFakeChain()
	chain.status = 0
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "07")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	r := waitStatus(t, tr, digest, StatusFailed)
	if !strings.Contains(r.Message, "reverted") {
		t.Fatalf("unexpected message: %q", r.Message)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "08")

	_, err := tr.Submit(context.Background(), digest, 1)
	if err != nil {
		t.Fatal(err)
	}
	confirmed := waitStatus(t, tr, digest, StatusConfirmed)

	// Neither a late failure nor a second confirmation may move the
	// record.
	tr.fail(digest, chainhash.Hash{}, "should be ignored")
	tr.confirm(digest, &chainclient.Receipt{BlockNumber: 99})

	r, err := tr.Status(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(confirmed, r) {
		t.Fatalf("terminal record mutated:\n%v\n%v",
			spew.Sdump(confirmed), spew.Sdump(r))
	}
}

func TestStatusNotFound(t *testing.T) {
	tr := newTestTracker(t, newFakeChain(), &fakeBuilder{})
	_, err := tr.Status(testDigest(t, "ff"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReconcileConfirmsOrphan(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "09")

	// A pending record with a broadcast tx but no driver, as left behind
	// by a previous process.
	var tx chainhash.Hash
	tx[0] = 0xaa
	err := tr.store.Put(&AnchorRecord{
		Digest:        digest,
		InstitutionID: 2,
		Tx:            tx,
		Status:        StatusPending,
		SubmittedAt:   time.Now().Unix(),
		Attempts:      1,
	})
	if err != nil {
		t.Fatal(err)
	}

	tr.Reconcile()
	r := waitStatus(t, tr, digest, StatusConfirmed)
	if r.BlockNumber != 42 {
		t.Fatalf("block number = %v, want 42", r.BlockNumber)
	}
}

func TestReconcileResumesUnbroadcast(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{})
	digest := testDigest(t, "0a")

	err := tr.store.Put(&AnchorRecord{
		Digest:        digest,
		InstitutionID: 2,
		Status:        StatusPending,
		SubmittedAt:   time.Now().Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}

	tr.Reconcile()
	waitStatus(t, tr, digest, StatusConfirmed)
	if chain.submitCount() == 0 {
		t.Fatal("resumed record never reached the chain")
	}
}

func TestLastAnchor(t *testing.T) {
	chain := newFakeChain()
	tr := newTestTracker(t, chain, &fakeBuilder{})

	_, err := tr.LastAnchor()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound on empty store", err)
	}

	d1 := testDigest(t, "0b")
	d2 := testDigest(t, "0c")
	if _, err := tr.Submit(context.Background(), d1, 1); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tr, d1, StatusConfirmed)

	// Force a later confirmation time on the second record.
	tr.mu.Lock()
	tr.myNow = func() time.Time {
		return time.Now().Add(time.Hour)
	}
	tr.mu.Unlock()
	if _, err := tr.Submit(context.Background(), d2, 1); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tr, d2, StatusConfirmed)

	last, err := tr.LastAnchor()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Digest != d2 {
		t.Fatalf("last anchor = %v", spew.Sdump(last))
	}
}
