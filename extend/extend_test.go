package extend

import (
	"testing"

	"github.com/grailbio/bwamem/align"
	"github.com/stretchr/testify/require"
)

// sliceRef serves reference bases from an in-memory packed slice, clipping
// at either edge the way a real contig-bounded reader would.
type sliceRef []align.Base

func (s sliceRef) Bases(pos int64, n int) []align.Base {
	if pos < 0 {
		n += int(pos)
		pos = 0
	}
	if n <= 0 || pos >= int64(len(s)) {
		return nil
	}
	end := pos + int64(n)
	if end > int64(len(s)) {
		end = int64(len(s))
	}
	return s[pos:end]
}

func packString(s string) []align.Base {
	out := make([]align.Base, len(s))
	for i, c := range s {
		switch c {
		case 'A':
			out[i] = align.BaseA
		case 'C':
			out[i] = align.BaseC
		case 'G':
			out[i] = align.BaseG
		case 'T':
			out[i] = align.BaseT
		default:
			out[i] = align.BaseN
		}
	}
	return out
}

func cigarLens(trace *align.Traceback) (readLen, refLen int) {
	for _, e := range trace.Elems {
		switch e.Op {
		case align.TraceMatch, align.TraceMismatch:
			readLen += e.Len
			refLen += e.Len
		case align.TraceIns:
			readLen += e.Len
		case align.TraceDel:
			refLen += e.Len
		}
	}
	return
}

func TestExtendExactMatch(t *testing.T) {
	ref := packString("ACGTACGTACGTACGT")
	read := packString("ACGTACGT")
	params := align.DefaultScoringParameters()
	ex := NewExtender(&params)

	seed := align.Seed{ReadOffset: 0, RefPos: 0, Len: len(read)}
	region := ex.Extend(read, sliceRef(ref), seed, 0)

	require.Equal(t, int32(len(read))*params.Match, region.Score)
	require.Equal(t, int64(0), region.RefBegin)
	require.Equal(t, int64(len(read)), region.RefEnd)
	readLen, refLen := cigarLens(region.Trace)
	require.Equal(t, len(read), readLen)
	require.Equal(t, len(read), refLen)
}

func TestExtendSingleMismatch(t *testing.T) {
	ref := packString("ACGTACGTACGTACGT")
	read := packString("ACGTATGT") // mismatch at offset 5: ref C, read T
	params := align.DefaultScoringParameters()
	ex := NewExtender(&params)

	// Anchor a seed over the first 4 matching bases; the extender must
	// recover the rest via DP rather than assume an exact match.
	seed := align.Seed{ReadOffset: 0, RefPos: 0, Len: 4}
	region := ex.Extend(read, sliceRef(ref), seed, 0)

	readLen, refLen := cigarLens(region.Trace)
	require.Equal(t, len(read), readLen)
	require.Equal(t, len(read), refLen)
	require.Less(t, region.Score, int32(len(read))*params.Match)
}

func TestExtendDeletion(t *testing.T) {
	// Reference ACGTACGTACGT, read ACGTCGTACGT (the 'A' at ref offset 4 is
	// deleted), matching spec.md's deletion scenario.
	ref := packString("ACGTACGTACGT")
	read := packString("ACGTCGTACGT")
	params := align.DefaultScoringParameters()
	ex := NewExtender(&params)

	seed := align.Seed{ReadOffset: 0, RefPos: 0, Len: 4}
	region := ex.Extend(read, sliceRef(ref), seed, 0)

	readLen, refLen := cigarLens(region.Trace)
	require.Equal(t, len(read), readLen)
	require.Greater(t, refLen, readLen) // reference span includes the deleted base
}
