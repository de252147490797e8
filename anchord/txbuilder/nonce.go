// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"context"
	"sync"
)

// NonceSource hands out strictly increasing nonces for a single signing key.
// All allocation goes through one mutex; concurrent submissions under the
// same key therefore cannot race on nonce assignment.
type NonceSource struct {
	mu     sync.Mutex
	next   uint64
	seeded bool
	fetch  func(context.Context) (uint64, error)
}

// NewNonceSource returns a NonceSource seeded lazily from fetch.
func NewNonceSource(fetch func(context.Context) (uint64, error)) *NonceSource {
	return &NonceSource{fetch: fetch}
}

// Next allocates the next nonce.  The first call after construction or
// Invalidate consults the chain for the account's pending nonce.
func (n *NonceSource) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.seeded {
		v, err := n.fetch(ctx)
		if err != nil {
			return 0, err
		}
		n.next = v
		n.seeded = true
	}

	v := n.next
	n.next++
	return v, nil
}

// Invalidate discards the cached sequence so the next allocation re-seeds
// from the chain.
func (n *NonceSource) Invalidate() {
	n.mu.Lock()
	n.seeded = false
	n.mu.Unlock()
}
