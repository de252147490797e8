// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

func TestNonceSequence(t *testing.T) {
	fetches := 0
	ns := NewNonceSource(func(ctx context.Context) (uint64, error) {
		fetches++
		return 100, nil
	})

	for i := uint64(0); i < 5; i++ {
		v, err := ns.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if v != 100+i {
			t.Fatalf("nonce %v: got %v want %v", i, v, 100+i)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected a single seed fetch, got %v", fetches)
	}
}

func TestNonceInvalidate(t *testing.T) {
	seed := uint64(10)
	ns := NewNonceSource(func(ctx context.Context) (uint64, error) {
		return seed, nil
	})

	v, err := ns.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 10 {
		t.Fatalf("got %v want 10", v)
	}

	// Conflict on chain: the account really is at 50.
	seed = 50
	ns.Invalidate()
	v, err = ns.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 50 {
		t.Fatalf("got %v want 50 after invalidate", v)
	}
}

func TestNonceFetchError(t *testing.T) {
	wantErr := errors.New("node unreachable")
	calls := 0
	ns := NewNonceSource(func(ctx context.Context) (uint64, error) {
		calls++
		if calls == 1 {
			return 0, wantErr
		}
		return 7, nil
	})

	_, err := ns.Next(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v want %v", err, wantErr)
	}

	// A failed seed must not poison the sequence.
	v, err := ns.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Fatalf("got %v want 7", v)
	}
}

func TestNonceConcurrent(t *testing.T) {
	ns := NewNonceSource(func(ctx context.Context) (uint64, error) {
		return 0, nil
	})

	const workers = 32
	var (
		mu     sync.Mutex
		nonces []uint64
		wg     sync.WaitGroup
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			v, err := ns.Next(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			nonces = append(nonces, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(nonces) != workers {
		t.Fatalf("got %v nonces, want %v", len(nonces), workers)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, v := range nonces {
		if v != uint64(i) {
			t.Fatalf("nonce gap or duplicate at %v: %v", i, nonces)
		}
	}
}
