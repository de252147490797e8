// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v2"

	"github.com/academiaveritas/anchord/anchord/chainclient"
	"github.com/academiaveritas/anchord/anchord/tracker"
)

var (
	defaultHomeDir = dcrutil.AppDataDir("anchord", false)

	dumpJSON = flag.Bool("json", false, "Dump JSON")
	fsRoot   = flag.String("source", "", "Source directory")
	testnet  = flag.Bool("testnet", false, "Use testnet data directory")
	simnet   = flag.Bool("simnet", false, "Use simnet data directory")
)

const fStr = "20060102.150405"

func dumpRecord(r *tracker.AnchorRecord) {
	if *dumpJSON {
		b, err := json.Marshal(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return
		}
		fmt.Println(string(b))
		return
	}

	fmt.Printf("Digest         : %v\n", hex.EncodeToString(r.Digest[:]))
	fmt.Printf("  Institution  : %v\n", r.InstitutionID)
	fmt.Printf("  Status       : %v\n", r.Status)
	if r.Tx != (chainhash.Hash{}) {
		fmt.Printf("  TxID         : %v\n", chainclient.HashHex(r.Tx))
	}
	fmt.Printf("  Submitted    : %v\n",
		time.Unix(r.SubmittedAt, 0).UTC().Format(fStr))
	if r.ConfirmedAt != 0 {
		fmt.Printf("  Confirmed    : %v\n",
			time.Unix(r.ConfirmedAt, 0).UTC().Format(fStr))
		fmt.Printf("  Block        : %v\n", r.BlockNumber)
		fmt.Printf("  Chain time   : %v\n",
			time.Unix(r.ChainTimestamp, 0).UTC().Format(fStr))
	}
	fmt.Printf("  Attempts     : %v\n", r.Attempts)
	if r.Message != "" {
		fmt.Printf("  Message      : %v\n", r.Message)
	}
}

func _main() error {
	flag.Parse()

	root := *fsRoot
	if root == "" {
		net := "mainnet"
		if *testnet {
			net = "testnet"
		}
		if *simnet {
			net = "simnet"
		}
		root = filepath.Join(defaultHomeDir, "data", net)
	}

	store, err := tracker.OpenStore(root)
	if err != nil {
		return err
	}
	defer store.Close()

	if !*dumpJSON {
		fmt.Printf("=== Root: %v\n", root)
	}

	return store.ForEach(func(r *tracker.AnchorRecord) error {
		dumpRecord(r)
		return nil
	})
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
