// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package certhash derives the content hash that gets anchored on the chain
// for a certificate record.  The canonical form is deterministic so that the
// same certificate always yields the same digest regardless of who computes
// it.
package certhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Certificate is the subset of a certificate record that participates in the
// content hash.  Presentation details (layout, seals, signatures rendered on
// the document) deliberately do not.
type Certificate struct {
	InstitutionID uint64 // Issuing institution
	Recipient     string // Full name of the certificate holder
	Title         string // Degree or course title
	Issued        string // Issue date, YYYY-MM-DD
}

// collapse trims v and folds internal whitespace runs into single spaces.
func collapse(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// Canonical returns the canonical serialization of c.  Field order is fixed
// and values are whitespace normalized; changing this breaks every digest
// previously anchored, so don't.
func Canonical(c *Certificate) []byte {
	var b strings.Builder
	b.WriteString("institution:")
	b.WriteString(strconv.FormatUint(c.InstitutionID, 10))
	b.WriteString("\nrecipient:")
	b.WriteString(collapse(c.Recipient))
	b.WriteString("\ntitle:")
	b.WriteString(collapse(c.Title))
	b.WriteString("\nissued:")
	b.WriteString(collapse(c.Issued))
	b.WriteString("\n")
	return []byte(b.String())
}

// Hash returns the SHA256 content hash of the canonical form of c.
func Hash(c *Certificate) [sha256.Size]byte {
	return sha256.Sum256(Canonical(c))
}

// HashString returns the content hash of c as a hex string.
func HashString(c *Certificate) string {
	h := Hash(c)
	return hex.EncodeToString(h[:])
}

// ParseDigest converts the text representation of a content hash into its
// binary form.  It rejects anything that is not exactly a 256 bit hex
// digest.
func ParseDigest(digest string) ([sha256.Size]byte, error) {
	var d [sha256.Size]byte
	hash, err := hex.DecodeString(digest)
	if err != nil {
		return d, fmt.Errorf("invalid digest: %v", err)
	}
	if len(hash) != sha256.Size {
		return d, fmt.Errorf("invalid digest length: %v", len(hash))
	}
	copy(d[:], hash)
	return d, nil
}
