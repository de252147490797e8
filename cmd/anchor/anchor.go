// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"

	"github.com/google/uuid"

	v1 "github.com/academiaveritas/anchord/api/v1"
	"github.com/academiaveritas/anchord/util"
)

var (
	testnet     = flag.Bool("testnet", false, "Use testnet port")
	debug       = flag.Bool("debug", false, "Print JSON that is sent to server")
	printJson   = flag.Bool("json", false, "Print JSON response from server")
	fileOnly    = flag.Bool("file", false, "Treat arguments as file names")
	host        = flag.String("h", "", "Anchoring host")
	trial       = flag.Bool("t", false, "Trial run, don't contact server")
	verbose     = flag.Bool("v", false, "Verbose")
	verify      = flag.Bool("verify", false, "Verify digests instead of "+
		"anchoring them")
	last = flag.Bool("last", false, "Print the last confirmed anchor and "+
		"exit")
	institution = flag.Uint64("institution", 0, "Issuing institution id, "+
		"required when anchoring")
	skipVerify = flag.Bool("skipverify", false, "Skip TLS certificate "+
		"verification (self hosted anchord)")
)

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// isFile determines if the provided filename points to a valid file.
func isFile(filename string) bool {
	fi, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// isDigest determines if a string is a valid SHA256 digest.
func isDigest(digest string) bool {
	return v1.RegexpSHA256.MatchString(digest)
}

// getError returns the error that is embedded in a JSON reply.
func getError(r io.Reader) (string, error) {
	var e interface{}
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&e); err != nil {
		return "", err
	}
	m, ok := e.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("could not decode response")
	}
	rError, ok := m["error"]
	if !ok {
		return "", fmt.Errorf("no error response")
	}
	return fmt.Sprintf("%v", rError), nil
}

func newClient() *http.Client {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: *skipVerify,
	}
	tr := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &http.Client{Transport: tr}
}

// post sends b to route and returns the response body on a 200.
func post(route string, b []byte) (io.ReadCloser, error) {
	if *debug {
		fmt.Println(string(b))
	}

	c := newClient()
	r, err := c.Post(*host+route, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	if r.StatusCode != http.StatusOK {
		defer r.Body.Close()
		e, err := getError(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%v", r.Status)
		}
		return nil, fmt.Errorf("%v: %v", r.Status, e)
	}

	return r.Body, nil
}

// anchorDigest submits a single digest for anchoring and prints the reply.
func anchorDigest(digest, filename string) error {
	a := v1.Anchor{
		ID:            uuid.New().String(),
		Digest:        digest,
		InstitutionID: *institution,
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}

	// If this is a trial run return.
	if *trial {
		return nil
	}

	body, err := post(v1.AnchorRoute, b)
	if err != nil {
		return err
	}
	defer body.Close()

	if *printJson {
		io.Copy(os.Stdout, body)
		fmt.Printf("\n")
		return nil
	}

	// Decode response.
	var reply v1.AnchorReply
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&reply); err != nil {
		return fmt.Errorf("could not decode AnchorReply: %v", err)
	}

	fmt.Printf("%v %v %v\n", digest, reply.Record.Status, filename)
	if *verbose {
		if reply.Record.Transaction != "" {
			fmt.Printf("  %-15v: %v\n", "TxID",
				reply.Record.Transaction)
		}
		fmt.Printf("  %-15v: %v\n", "Attempts", reply.Record.Attempts)
		if reply.Record.Message != "" {
			fmt.Printf("  %-15v: %v\n", "Message",
				reply.Record.Message)
		}
	}

	return nil
}

// verifyDigest asks the server whether a single digest is anchored and
// prints the verdict.
func verifyDigest(digest, filename string) error {
	v := v1.Verify{
		ID:     uuid.New().String(),
		Digest: digest,
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	// If this is a trial run return.
	if *trial {
		return nil
	}

	body, err := post(v1.VerifyRoute, b)
	if err != nil {
		return err
	}
	defer body.Close()

	if *printJson {
		io.Copy(os.Stdout, body)
		fmt.Printf("\n")
		return nil
	}

	// Decode response.
	var reply v1.VerifyReply
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&reply); err != nil {
		return fmt.Errorf("could not decode VerifyReply: %v", err)
	}

	verdict := "Not anchored"
	if reply.Verified {
		verdict = "Verified"
	}
	fmt.Printf("%v %v %v\n", digest, verdict, filename)
	if *verbose {
		fmt.Printf("  %-15v: %v\n", "Message", reply.Message)
		if reply.Transaction != "" {
			fmt.Printf("  %-15v: %v\n", "TxID", reply.Transaction)
		}
		if reply.BlockNumber != 0 {
			fmt.Printf("  %-15v: %v\n", "Block Number",
				reply.BlockNumber)
			fmt.Printf("  %-15v: %v\n", "Chain Timestamp",
				reply.ChainTimestamp)
		}
	}

	return nil
}

// lastAnchor prints the most recently confirmed anchor.
func lastAnchor() error {
	c := newClient()
	r, err := c.Get(*host + v1.LastAnchorRoute)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		e, err := getError(r.Body)
		if err != nil {
			return fmt.Errorf("%v", r.Status)
		}
		return fmt.Errorf("%v: %v", r.Status, e)
	}

	if *printJson {
		io.Copy(os.Stdout, r.Body)
		fmt.Printf("\n")
		return nil
	}

	var reply v1.LastAnchorReply
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&reply); err != nil {
		return fmt.Errorf("could not decode LastAnchorReply: %v", err)
	}

	fmt.Printf("%-15v: %v\n", "Digest", reply.Digest)
	fmt.Printf("%-15v: %v\n", "TxID", reply.Transaction)
	fmt.Printf("%-15v: %v\n", "Block Number", reply.BlockNumber)
	fmt.Printf("%-15v: %v\n", "Chain Timestamp", reply.ChainTimestamp)

	return nil
}

func _main() error {
	flag.Parse()

	if *host == "" {
		*host = "127.0.0.1"
	}

	port := v1.DefaultMainnetPort
	if *testnet {
		port = v1.DefaultTestnetPort
	}

	*host = normalizeAddress(*host, port)

	u, err := url.Parse("https://" + *host)
	if err != nil {
		return err
	}
	*host = u.String()

	if *last {
		return lastAnchor()
	}

	// We attempt to open files first; if that doesn't work we treat the
	// args as digests.  Use fileOnly to force file treatment.
	type question struct {
		digest   string
		filename string
	}
	var questions []question
	exists := make(map[string]string) // [digest]filename
	for _, a := range flag.Args() {
		// Try to see if argument is a valid file.
		if isFile(a) || *fileOnly {
			d, err := util.DigestFile(a)
			if err != nil {
				return err
			}

			// Skip dups.
			if old, ok := exists[d]; ok {
				fmt.Printf("warning: duplicate digest "+
					"skipped: %v  %v -> %v\n", d, old, a)
				continue
			}
			exists[d] = a

			questions = append(questions, question{d, a})
			continue
		}

		// Argument was not a file, try to see if it is a digest.
		if isDigest(a) {
			questions = append(questions, question{a, ""})
			continue
		}

		return fmt.Errorf("%v is not a digest or valid file", a)
	}

	if len(questions) == 0 {
		return fmt.Errorf("nothing to do")
	}

	if !*verify && *institution == 0 {
		return fmt.Errorf("the -institution flag is required when " +
			"anchoring")
	}

	for _, q := range questions {
		if *verify {
			err = verifyDigest(q.digest, q.filename)
		} else {
			err = anchorDigest(q.digest, q.filename)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
