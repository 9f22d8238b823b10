package cigar

import (
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/bwamem/align"
	"github.com/stretchr/testify/require"
)

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
		}
	}
	return out
}

func TestBuildExactMatch(t *testing.T) {
	ref := packString("ACGTACGT")
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 8,
		ReadBegin: 0, ReadEnd: 8,
		Trace: &align.Traceback{Elems: []align.TraceElem{{Op: align.TraceMatch, Len: 8}}},
	}
	res := Build(region, 8, ref, Opts{})
	require.Equal(t, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 8)}, res.Cigar)
	require.Equal(t, "8", res.MD)
	require.Equal(t, 0, res.NM)
}

func TestBuildSingleMismatch(t *testing.T) {
	ref := packString("ACGT")
	read := "ACGA"
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 4,
		ReadBegin: 0, ReadEnd: 4,
		Trace: &align.Traceback{Elems: []align.TraceElem{
			{Op: align.TraceMatch, Len: 3},
			{Op: align.TraceMismatch, Len: 1},
		}},
	}
	res := Build(region, 4, ref, Opts{})
	require.Equal(t, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 4)}, res.Cigar)
	require.Equal(t, "3T0", res.MD)
	require.Equal(t, 1, res.NM)
	require.Equal(t, matchr.Levenshtein("ACGT", read), res.NM)
}

func TestBuildDeletionIsSqueezedAtEdges(t *testing.T) {
	// Traceback opens with a deletion run, which must not appear in the
	// emitted CIGAR; it becomes a RefBegin adjustment instead.
	ref := packString("TTACGT")
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 6,
		ReadBegin: 0, ReadEnd: 4,
		Trace: &align.Traceback{Elems: []align.TraceElem{
			{Op: align.TraceDel, Len: 2},
			{Op: align.TraceMatch, Len: 4},
		}},
	}
	res := Build(region, 4, ref, Opts{})
	require.Equal(t, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 4)}, res.Cigar)
	require.Equal(t, int64(2), res.RefBegin)
	require.Equal(t, "4", res.MD)
	require.Equal(t, 0, res.NM)
}

func TestBuildInteriorDeletionAndInsertion(t *testing.T) {
	// ref:  A C G T A C - G T
	// read: A C G - A C T G T  (one ref base deleted, one read base inserted)
	ref := packString("ACGTACGT")
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 8,
		ReadBegin: 0, ReadEnd: 8,
		Trace: &align.Traceback{Elems: []align.TraceElem{
			{Op: align.TraceMatch, Len: 3},
			{Op: align.TraceDel, Len: 1},
			{Op: align.TraceMatch, Len: 2},
			{Op: align.TraceIns, Len: 1},
			{Op: align.TraceMatch, Len: 2},
		}},
	}
	res := Build(region, 8, ref, Opts{})
	require.Equal(t, sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarDeletion, 1),
		sam.NewCigarOp(sam.CigarMatch, 2),
		sam.NewCigarOp(sam.CigarInsertion, 1),
		sam.NewCigarOp(sam.CigarMatch, 2),
	}, res.Cigar)
	require.Equal(t, "3^T4", res.MD)
	require.Equal(t, 2, res.NM)
}

func TestBuildClipsUnalignedReadEnds(t *testing.T) {
	ref := packString("ACGT")
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 4,
		ReadBegin: 2, ReadEnd: 6,
		Trace: &align.Traceback{Elems: []align.TraceElem{{Op: align.TraceMatch, Len: 4}}},
	}
	res := Build(region, 10, ref, Opts{Clip: ClipHard})
	require.Equal(t, sam.Cigar{
		sam.NewCigarOp(sam.CigarHardClipped, 2),
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarHardClipped, 4),
	}, res.Cigar)
}

func TestBuildExtendedOpsEmitsEqualAndMismatch(t *testing.T) {
	ref := packString("ACGT")
	region := &align.MemAlnReg{
		RefBegin: 0, RefEnd: 4,
		ReadBegin: 0, ReadEnd: 4,
		Trace: &align.Traceback{Elems: []align.TraceElem{
			{Op: align.TraceMatch, Len: 3},
			{Op: align.TraceMismatch, Len: 1},
		}},
	}
	res := Build(region, 4, ref, Opts{ExtendedOps: true})
	require.Equal(t, sam.Cigar{
		sam.NewCigarOp(sam.CigarEqual, 3),
		sam.NewCigarOp(sam.CigarMismatch, 1),
	}, res.Cigar)
}
