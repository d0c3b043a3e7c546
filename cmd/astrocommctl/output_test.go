package main

import (
	"bytes"
	"testing"
)

// captureOutput swaps cmdOutput/errOutput for buffers for the duration of
// the test and restores the originals on cleanup.
func captureOutput(t *testing.T) (out, errs *bytes.Buffer) {
	t.Helper()
	origOut, origErr := cmdOutput, errOutput
	out, errs = &bytes.Buffer{}, &bytes.Buffer{}
	cmdOutput, errOutput = out, errs
	t.Cleanup(func() {
		cmdOutput, errOutput = origOut, origErr
	})
	return out, errs
}
