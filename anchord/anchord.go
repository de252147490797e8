// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	v1 "github.com/academiaveritas/anchord/api/v1"
	"github.com/academiaveritas/anchord/anchord/chainclient"
	"github.com/academiaveritas/anchord/anchord/tracker"
	"github.com/academiaveritas/anchord/anchord/txbuilder"
	"github.com/academiaveritas/anchord/anchord/verifier"
	"github.com/academiaveritas/anchord/certhash"
	"github.com/academiaveritas/anchord/util"
)

const forward = "X-Forwarded-For"

// anchord application context.
type anchord struct {
	cfg      *config
	router   *mux.Router
	tracker  *tracker.Tracker
	verifier *verifier.Verifier
}

// via returns the client address for the audit log, honoring the forwarding
// header a front proxy may set.
func via(r *http.Request) string {
	xff := r.Header.Get(forward)
	if xff != "" {
		return fmt.Sprintf("%v via %v", xff, r.RemoteAddr)
	}
	return r.RemoteAddr
}

// convertRecord translates a stored anchor record to its wire form.
func convertRecord(r *tracker.AnchorRecord) v1.AnchorRecord {
	wire := v1.AnchorRecord{
		Digest:         hex.EncodeToString(r.Digest[:]),
		InstitutionID:  r.InstitutionID,
		Status:         r.Status.String(),
		BlockNumber:    r.BlockNumber,
		ChainTimestamp: r.ChainTimestamp,
		SubmittedAt:    r.SubmittedAt,
		ConfirmedAt:    r.ConfirmedAt,
		Attempts:       r.Attempts,
		Message:        r.Message,
	}
	if r.Tx != (chainhash.Hash{}) {
		wire.Transaction = chainclient.HashHex(r.Tx)
	}
	return wire
}

// status returns the server status.  It is used as a liveness probe.
func (a *anchord) status(w http.ResponseWriter, r *http.Request) {
	var s v1.Status
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&s); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	log.Debugf("Status %v", via(r))
	util.RespondWithJSON(w, http.StatusOK, v1.StatusReply{
		ID: s.ID,
	})
}

// anchor accepts a certificate digest and hands it to the tracker.  The reply
// carries the current record; for a digest that is already tracked this is
// the stored record and no new chain work happens.
func (a *anchord) anchor(w http.ResponseWriter, r *http.Request) {
	var an v1.Anchor
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&an); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	if !v1.RegexpSHA256.MatchString(an.Digest) || an.InstitutionID == 0 {
		log.Infof("Anchor %v: rejected %v", via(r), an.Digest)
		util.RespondWithJSON(w, http.StatusBadRequest, v1.AnchorReply{
			ID:     an.ID,
			Result: v1.ResultInvalidError,
		})
		return
	}
	digest, err := certhash.ParseDigest(an.Digest)
	if err != nil {
		util.RespondWithJSON(w, http.StatusBadRequest, v1.AnchorReply{
			ID:     an.ID,
			Result: v1.ResultInvalidError,
		})
		return
	}

	record, err := a.tracker.Submit(r.Context(), digest, an.InstitutionID)
	if err != nil {
		// Generic internal error.
		errorCode := time.Now().Unix()
		log.Errorf("%v anchor error code %v: %v", r.RemoteAddr,
			errorCode, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			fmt.Sprintf("Could not store anchor, contact "+
				"administrator and provide the following "+
				"error code: %v", errorCode))
		return
	}

	log.Infof("Anchor %v: accepted %v institution %v", via(r), an.Digest,
		an.InstitutionID)
	util.RespondWithJSON(w, http.StatusOK, v1.AnchorReply{
		ID:     an.ID,
		Result: v1.ResultOK,
		Record: convertRecord(record),
	})
}

// verify answers whether a digest is anchored on the chain.
func (a *anchord) verify(w http.ResponseWriter, r *http.Request) {
	var vr v1.Verify
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&vr); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	if !v1.RegexpSHA256.MatchString(vr.Digest) {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid digest")
		return
	}
	digest, err := certhash.ParseDigest(vr.Digest)
	if err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid digest")
		return
	}

	result, err := a.verifier.Verify(r.Context(), digest)
	if err != nil {
		// Generic internal error.
		errorCode := time.Now().Unix()
		log.Errorf("%v verify error code %v: %v", r.RemoteAddr,
			errorCode, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			fmt.Sprintf("Could not verify digest, contact "+
				"administrator and provide the following "+
				"error code: %v", errorCode))
		return
	}

	log.Infof("Verify %v: %v verified %v", via(r), vr.Digest,
		result.Verified)
	reply := v1.VerifyReply{
		ID:             vr.ID,
		Verified:       result.Verified,
		BlockNumber:    result.BlockNumber,
		ChainTimestamp: result.ChainTimestamp,
		Message:        result.Message,
	}
	if result.Tx != (chainhash.Hash{}) {
		reply.Transaction = chainclient.HashHex(result.Tx)
	}
	util.RespondWithJSON(w, http.StatusOK, reply)
}

// lastAnchor returns information about the most recently confirmed anchor.
func (a *anchord) lastAnchor(w http.ResponseWriter, r *http.Request) {
	record, err := a.tracker.LastAnchor()
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			util.RespondWithError(w, http.StatusNotFound,
				"No confirmed anchors")
			return
		}

		// Generic internal error.
		errorCode := time.Now().Unix()
		log.Errorf("%v last anchor error code %v: %v", r.RemoteAddr,
			errorCode, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			fmt.Sprintf("Could not retrieve last anchor, contact "+
				"administrator and provide the following "+
				"error code: %v", errorCode))
		return
	}

	log.Debugf("LastAnchor %v", via(r))
	util.RespondWithJSON(w, http.StatusOK, v1.LastAnchorReply{
		Digest:         hex.EncodeToString(record.Digest[:]),
		Transaction:    chainclient.HashHex(record.Tx),
		BlockNumber:    record.BlockNumber,
		ChainTimestamp: record.ChainTimestamp,
	})
}

// watchHeads nudges the tracker reconciler every time the chain grows so
// confirmations are picked up without waiting for the next poll.
func watchHeads(ctx context.Context, client *chainclient.Client, t *tracker.Tracker) {
	heads, err := client.SubscribeNewHeads(ctx)
	if err != nil {
		log.Warnf("New block subscription unavailable, falling back "+
			"to polling: %v", err)
		return
	}
	log.Infof("Subscribed to new block notifications")
	for height := range heads {
		log.Tracef("New block %v", height)
		t.Reconcile()
	}
}

func _main() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	loadedCfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version : %v", version())
	log.Infof("Network : %v", activeNetParams.Name)
	log.Infof("Home dir: %v", loadedCfg.HomeDir)

	// Create the data directory in case it does not exist.
	err = os.MkdirAll(loadedCfg.DataDir, 0700)
	if err != nil {
		return err
	}

	// Generate the TLS cert and key file if both don't already exist.
	if !fileExists(loadedCfg.HTTPSKey) && !fileExists(loadedCfg.HTTPSCert) {
		log.Infof("Generating HTTPS keypair...")

		err := util.GenCertPair("anchord", loadedCfg.HTTPSCert,
			loadedCfg.HTTPSKey)
		if err != nil {
			return fmt.Errorf("unable to create https keypair: %v",
				err)
		}

		log.Infof("HTTPS keypair created...")
	}

	// Chain node client.
	client, err := chainclient.New(&chainclient.Config{
		Endpoint:   loadedCfg.RPCEndpoint,
		WSEndpoint: loadedCfg.WSEndpoint,
		Credential: loadedCfg.RPCCredential,
		Timeout:    loadedCfg.RPCTimeout,
	})
	if err != nil {
		return fmt.Errorf("chain client: %v", err)
	}

	// Transaction builder.  The signing key is handed over and dropped
	// from the config so no later code path can leak it.
	gasPrice := new(big.Int).Mul(new(big.Int).
		SetUint64(loadedCfg.GasPriceGwei), big.NewInt(1e9))
	builder, err := txbuilder.New(&txbuilder.Config{
		SigningKey: loadedCfg.SigningKey,
		ChainID:    loadedCfg.ChainID,
		Contract:   loadedCfg.AnchorContract,
		GasPrice:   gasPrice,
		GasLimit:   loadedCfg.GasLimit,
	}, client.PendingNonce)
	if err != nil {
		return fmt.Errorf("transaction builder: %v", err)
	}
	loadedCfg.SigningKey = ""
	log.Infof("Anchoring from %v to contract %v on chain %v",
		builder.Address(), loadedCfg.AnchorContract, loadedCfg.ChainID)

	// Durable anchor record store.
	store, err := tracker.OpenStore(loadedCfg.DataDir)
	if err != nil {
		return fmt.Errorf("record store: %v", err)
	}

	// Anchor lifecycle tracker.
	t := tracker.New(store, client, builder, tracker.Config{
		Confirmations: loadedCfg.Confirmations,
		MaxAttempts:   loadedCfg.MaxAttempts,
		BackoffBase:   loadedCfg.BackoffBase,
		BackoffCap:    loadedCfg.BackoffCap,
		PollInterval:  loadedCfg.PollInterval,
	})
	err = t.Start()
	if err != nil {
		store.Close()
		return fmt.Errorf("tracker: %v", err)
	}
	defer t.Close()

	// Setup application context.
	a := &anchord{
		cfg:     loadedCfg,
		tracker: t,
		verifier: verifier.New(t, client, verifier.Config{
			MaxRecordAge: loadedCfg.MaxRecordAge,
		}),
	}

	// New block notifications are optional; confirmation polling covers
	// nodes without a websocket endpoint.
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	if loadedCfg.WSEndpoint != "" {
		go watchHeads(subCtx, client, t)
	}

	// Setup mux.
	a.router = mux.NewRouter()
	a.router.HandleFunc(v1.StatusRoute, a.status).Methods("POST")
	a.router.HandleFunc(v1.AnchorRoute, a.anchor).Methods("POST")
	a.router.HandleFunc(v1.VerifyRoute, a.verify).Methods("POST")
	a.router.HandleFunc(v1.LastAnchorRoute, a.lastAnchor).Methods("GET")
	handler := handlers.RecoveryHandler()(a.router)

	// Bind to a port and pass our router in.
	var g errgroup.Group
	for _, listener := range loadedCfg.Listeners {
		listen := listener
		g.Go(func() error {
			log.Infof("Listen: %v", listen)
			return http.ListenAndServeTLS(listen,
				loadedCfg.HTTPSCert, loadedCfg.HTTPSKey,
				handler)
		})
	}
	listenC := make(chan error, 1)
	go func() {
		listenC <- g.Wait()
	}()

	// Tell user we are ready to go.
	log.Infof("Start of day")

	// Setup OS signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case sig := <-sigs:
			log.Infof("Terminating with %v", sig)
			goto done
		case err := <-listenC:
			log.Errorf("%v", err)
			goto done
		}
	}
done:

	log.Infof("Exiting")

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
