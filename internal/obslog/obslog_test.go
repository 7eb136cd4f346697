package obslog

import (
	"bytes"
	"testing"

	"go.akshayshah.org/attest"
)

func TestRecentReturnsMostRecentInChronologicalOrder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, WithRingSize(3))

	l.Info("one")
	l.Info("two")
	l.Info("three")
	l.Info("four")

	recent := l.Recent()
	attest.Equal(t, len(recent), 3)
	attest.Equal(t, recent[0].Message, "two")
	attest.Equal(t, recent[1].Message, "three")
	attest.Equal(t, recent[2].Message, "four")
}

func TestRecentBeforeRingFillsReturnsOnlyWritten(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, WithRingSize(10))

	l.Info("only")

	recent := l.Recent()
	attest.Equal(t, len(recent), 1)
	attest.Equal(t, recent[0].Message, "only")
}

func TestNewWritesJSONToWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf)
	l.Info("hello", "key", "value")

	attest.True(t, bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)))
	attest.True(t, bytes.Contains(buf.Bytes(), []byte(`"key":"value"`)))
}
