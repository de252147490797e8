// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package tracker

import (
	"crypto/sha256"
	"errors"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
)

const storeDir = "anchors"

// ErrNotFound is returned when a digest has never been submitted.
var ErrNotFound = errors.New("anchor record not found")

// Store is the durable anchor record store: a leveldb keyed by digest.
type Store struct {
	db *leveldb.DB
}

// OpenStore opens (creating if necessary) the record store under root.
func OpenStore(root string) (*Store, error) {
	db, err := leveldb.OpenFile(filepath.Join(root, storeDir), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns the record for the provided digest.
func (s *Store) Get(digest [sha256.Size]byte) (*AnchorRecord, error) {
	payload, err := s.db.Get(digest[:], nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return DecodeAnchorRecord(payload)
}

// Put writes the record under its digest.
func (s *Store) Put(r *AnchorRecord) error {
	payload, err := EncodeAnchorRecord(*r)
	if err != nil {
		return err
	}
	return s.db.Put(r.Digest[:], payload, nil)
}

// ForEach invokes fn for every stored record.  Iteration stops on the first
// error.
func (s *Store) ForEach(fn func(*AnchorRecord) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		r, err := DecodeAnchorRecord(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
