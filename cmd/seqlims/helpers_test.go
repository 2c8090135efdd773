package main

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/nishad/seqlims/internal/testutil"
)

// captureStdout returns what fn printed to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	testutil.RequireNoError(t, err, "pipe")

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	testutil.RequireNoError(t, w.Close(), "close pipe")
	out, err := io.ReadAll(r)
	testutil.RequireNoError(t, err, "read pipe")
	return string(out)
}

func TestPrintHeadingKeepsPercentSigns(t *testing.T) {
	globals.NoColor, globals.Quiet = true, false

	out := captureStdout(t, func() { printHeading("GC 50% samples") })
	first := strings.SplitN(out, "\n", 2)[0]
	testutil.AssertEqual(t, first, "GC 50% samples", "heading line")
}
