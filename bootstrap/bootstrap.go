// Package bootstrap implements the job-side entry point of function
// submissions. A bootstrap binary reads the encoded call from stdin,
// invokes it against its registry and writes the encoded result where
// the service expects to collect it.
//
// The stock binary is cmd/vac-bootstrap; runtimes with their own
// functions build a main that registers them and calls Main.
package bootstrap

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/multyvac/vac/fn"
)

const (
	// DefaultCmd is the command submitted for function jobs. Runtime
	// images must provide it on PATH.
	DefaultCmd = "vac-bootstrap"

	// ResultFile is where the result is written, relative to the job
	// workspace.
	ResultFile = ".result"
)

// Run invokes the payload read from stdin against reg and writes the
// result to resultPath.
func Run(reg *fn.Registry, stdin io.Reader, resultPath string) error {
	payload, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if len(payload) == 0 {
		// Pod-based executors cannot pipe stdin and pass the payload
		// through the environment instead.
		if enc := os.Getenv("VAC_STDIN"); enc != "" {
			payload, err = base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return fmt.Errorf("decoding VAC_STDIN: %w", err)
			}
		}
	}
	if len(payload) == 0 {
		return fmt.Errorf("no call payload on stdin")
	}

	result, err := reg.InvokePayload(payload)
	if err != nil {
		return err
	}

	if err := os.WriteFile(resultPath, result, 0o644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// Main is the whole body of a bootstrap binary: Run against os.Stdin
// with the result path from argv, exiting nonzero on failure so the
// job is marked errored with the failure on stderr.
func Main(reg *fn.Registry) {
	resultPath := ResultFile
	if len(os.Args) > 1 {
		resultPath = os.Args[1]
	}

	if err := Run(reg, os.Stdin, resultPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
