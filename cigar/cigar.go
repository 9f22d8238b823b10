// Package cigar turns a traceback into the run-length CIGAR operations, MD
// tag, and NM tag a SAM/BAM record needs, per spec.md §4.6.
package cigar

import (
	"bytes"
	"strconv"

	"github.com/biogo/hts/sam"

	"github.com/grailbio/bwamem/align"
)

// ClipStyle selects how the unaligned read prefix/suffix is represented.
type ClipStyle int

const (
	// ClipSoft keeps clipped bases in the record (flag bit not set); used
	// for primary/secondary records and, unless overridden, supplementary
	// ones too.
	ClipSoft ClipStyle = iota
	// ClipHard drops clipped bases from SEQ/QUAL, the default for
	// supplementary records per spec.md §4.5.
	ClipHard
)

// Opts configures CIGAR generation.
type Opts struct {
	Clip ClipStyle
	// ExtendedOps emits {=,X} instead of folding matches and mismatches
	// into a single M, per spec.md §4.6's "(or {=,X,I,D,S,H} if enabled)".
	ExtendedOps bool
}

// Result is the generated CIGAR plus its accompanying tags.
type Result struct {
	Cigar    sam.Cigar
	MD       string
	NM       int
	RefBegin int64 // RefBegin after squeezing any leading deletion run
	RefEnd   int64 // RefEnd after squeezing any trailing deletion run
}

var baseLetter = [5]byte{'A', 'C', 'G', 'T', 'N'}

// Build converts region's traceback into a CIGAR/MD/NM triple. refBases
// must cover exactly [region.RefBegin, region.RefEnd) in forward orientation,
// the same span the extender ran its DP over. readLen is the full read
// length, used to size the leading/trailing clip operations.
func Build(region *align.MemAlnReg, readLen int, refBases []align.Base, opts Opts) Result {
	elems, leadTrim, trailTrim := squeezeDeletions(region.Trace.Elems)

	var ops runBuilder
	clipOp := sam.CigarSoftClipped
	if opts.Clip == ClipHard {
		clipOp = sam.CigarHardClipped
	}
	if region.ReadBegin > 0 {
		ops.append(clipOp, region.ReadBegin)
	}

	var md bytes.Buffer
	matchRun := 0
	nm := 0
	refCursor := leadTrim

	flushMatchRun := func() {
		md.WriteString(strconv.Itoa(matchRun))
		matchRun = 0
	}

	matchOp, mismatchOp := sam.CigarMatch, sam.CigarMatch
	if opts.ExtendedOps {
		matchOp, mismatchOp = sam.CigarEqual, sam.CigarMismatch
	}

	for _, e := range elems {
		switch e.Op {
		case align.TraceMatch:
			matchRun += e.Len
			ops.append(matchOp, e.Len)
			refCursor += e.Len
		case align.TraceMismatch:
			for k := 0; k < e.Len; k++ {
				flushMatchRun()
				md.WriteByte(baseLetter[refBases[refCursor]&7])
				refCursor++
				nm++
			}
			ops.append(mismatchOp, e.Len)
		case align.TraceIns:
			nm += e.Len
			ops.append(sam.CigarInsertion, e.Len)
		case align.TraceDel:
			flushMatchRun()
			md.WriteByte('^')
			for k := 0; k < e.Len; k++ {
				md.WriteByte(baseLetter[refBases[refCursor]&7])
				refCursor++
			}
			nm += e.Len
			ops.append(sam.CigarDeletion, e.Len)
		}
	}
	flushMatchRun()

	if trailing := readLen - region.ReadEnd; trailing > 0 {
		ops.append(clipOp, trailing)
	}

	return Result{
		Cigar:    ops.build(),
		MD:       md.String(),
		NM:       nm,
		RefBegin: region.RefBegin + int64(leadTrim),
		RefEnd:   region.RefEnd - int64(trailTrim),
	}
}

// squeezeDeletions drops a leading and/or trailing deletion run from elems,
// per spec.md §4.6: those runs become a position adjustment rather than an
// emitted D operation. It returns the trimmed slice (sharing elems' backing
// array) and the lengths trimmed from each end.
func squeezeDeletions(elems []align.TraceElem) ([]align.TraceElem, int, int) {
	lo, hi := 0, len(elems)
	lead, trail := 0, 0
	if lo < hi && elems[lo].Op == align.TraceDel {
		lead = elems[lo].Len
		lo++
	}
	if hi > lo && elems[hi-1].Op == align.TraceDel {
		trail = elems[hi-1].Len
		hi--
	}
	return elems[lo:hi], lead, trail
}

// runBuilder accumulates CIGAR operations, merging adjacent runs of the same
// type (matches and mismatches both fold into sam.CigarMatch when extended
// ops aren't requested, so consecutive M/X runs must coalesce into one op).
type runBuilder struct {
	types []sam.CigarOpType
	lens  []int
}

func (b *runBuilder) append(t sam.CigarOpType, n int) {
	if n == 0 {
		return
	}
	if l := len(b.types); l > 0 && b.types[l-1] == t {
		b.lens[l-1] += n
		return
	}
	b.types = append(b.types, t)
	b.lens = append(b.lens, n)
}

func (b *runBuilder) build() sam.Cigar {
	out := make(sam.Cigar, len(b.types))
	for i, t := range b.types {
		out[i] = sam.NewCigarOp(t, b.lens[i])
	}
	return out
}
