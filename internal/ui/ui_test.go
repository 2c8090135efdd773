package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nishad/seqlims/internal/testutil"
)

func TestTableRendersRows(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, "ID", "Name", "Size")
	table.Append(1, "reads_R1.fastq", Bytes(2048))
	table.Append(2, nil, Bytes(-1))
	table.Render()

	out := buf.String()
	testutil.AssertEqual(t, table.Len(), 2, "row count")
	testutil.AssertContains(t, out, "ID", "header")
	testutil.AssertContains(t, out, "reads_R1.fastq", "cell")
	testutil.AssertContains(t, out, "2.0 kB", "humanized size")
}

func TestHumanFormats(t *testing.T) {
	testutil.AssertEqual(t, Count(1234567), "1,234,567", "count")
	testutil.AssertEqual(t, Bytes(-1), "-", "unknown size")
	testutil.AssertEqual(t, Ago(time.Time{}), "never", "zero time")
	testutil.AssertEqual(t, AgoPtr(nil), "never", "nil time")

	hourAgo := time.Now().Add(-time.Hour)
	testutil.AssertEqual(t, AgoPtr(&hourAgo), "1 hour ago", "relative time")
}

func TestSpinnerWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinnerTo(&buf, false, "Rebuilding index")
	s.Start()
	s.Update("ignored")
	s.Stop("done")
	s.Stop("twice")

	testutil.AssertEqual(t, buf.String(), "Rebuilding index...\ndone\n", "plain output")
}

func TestSpinnerOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinnerTo(&buf, true, "Working")
	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop("ok")

	out := buf.String()
	testutil.AssertContains(t, out, "Working", "spinner frame")
	testutil.AssertTrue(t, strings.HasSuffix(out, "\r\033[Kok\n"), "line cleared before the final message")
}

func TestShowSpinnerReturnsError(t *testing.T) {
	want := errors.New("boom")
	err := ShowSpinner("failing", func() error { return want })
	testutil.AssertEqual(t, err, want, "error passed through")
}
