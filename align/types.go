// Package align holds the data types shared by every stage of the alignment
// pipeline: the packed read representation, the reference coordinate space,
// seeds, chains, extended regions, scoring knobs, and the insert-size model
// used for paired reads. Nothing in this package does any work; it exists so
// that index, seed, chain, extend, classify, cigar, mapq, pairend, output and
// mem can pass the same concrete types between each other without import
// cycles.
package align

import "fmt"

// Base encodes one nucleotide in the packed 2-bit-plus-N alphabet used
// throughout the pipeline: 0=A, 1=C, 2=G, 3=T, 4=N.
type Base = byte

const (
	BaseA Base = 0
	BaseC Base = 1
	BaseG Base = 2
	BaseT Base = 3
	BaseN Base = 4
)

// baseComplement maps a packed base to its Watson-Crick complement; N maps
// to itself.
var baseComplement = [5]Base{BaseT, BaseG, BaseC, BaseA, BaseN}

// Complement returns the complement of a packed base.
func Complement(b Base) Base { return baseComplement[b&7] }

// ReadSequence is one ingested read: a name, its bases in packed form, Phred
// quality scores, and an optional free-text comment. A ReadSequence is
// immutable after construction; callers that need a reverse-complemented
// view build a new one rather than mutating in place.
type ReadSequence struct {
	Name    string
	Bases   []Base // len(Bases) == len(Quals)
	Quals   []byte // Phred-scaled, not ASCII-offset
	Comment string
}

// Len returns the read length in bases.
func (r *ReadSequence) Len() int { return len(r.Bases) }

// ReverseComplement returns a new ReadSequence with bases reverse-complemented
// and qualities reversed. The name and comment are carried over unchanged.
func (r *ReadSequence) ReverseComplement() *ReadSequence {
	n := len(r.Bases)
	out := &ReadSequence{
		Name:    r.Name,
		Comment: r.Comment,
		Bases:   make([]Base, n),
		Quals:   make([]byte, n),
	}
	for i := 0; i < n; i++ {
		out.Bases[i] = Complement(r.Bases[n-1-i])
		out.Quals[i] = r.Quals[n-1-i]
	}
	return out
}

// Contig describes one sequence in the reference, as laid out in the
// concatenated forward/reverse-complement coordinate space.
type Contig struct {
	Name   string
	Length int64
	Offset int64 // position of the contig's first base in the forward half
	IsAlt  bool
}

// ReferenceMetadata maps absolute positions in [0, 2*TotalLength) to
// (contig, local offset) pairs. The forward half of the coordinate space
// spans [0, TotalLength); the reverse-complement half mirrors it onto
// [TotalLength, 2*TotalLength).
type ReferenceMetadata struct {
	Contigs     []Contig
	TotalLength int64
}

// NewReferenceMetadata builds a ReferenceMetadata from an ordered list of
// (name, length, isAlt) triples, computing offsets as a running sum.
func NewReferenceMetadata(contigs []Contig) *ReferenceMetadata {
	var offset int64
	out := make([]Contig, len(contigs))
	for i, c := range contigs {
		c.Offset = offset
		out[i] = c
		offset += c.Length
	}
	return &ReferenceMetadata{Contigs: out, TotalLength: offset}
}

// IsReverseStrand reports whether an absolute position lies in the
// reverse-complement half of the coordinate space.
func (m *ReferenceMetadata) IsReverseStrand(pos int64) bool {
	return pos >= m.TotalLength
}

// ForwardEquivalent maps a position in the reverse-complement half back onto
// the forward half, per spec: 2*totalLength - 1 - pos.
func (m *ReferenceMetadata) ForwardEquivalent(pos int64) int64 {
	return 2*m.TotalLength - 1 - pos
}

// ContigAt returns the contig containing the forward-space position fwdPos
// (which must be in [0, TotalLength)) and the 0-based offset within it, via
// binary search over contig offsets.
func (m *ReferenceMetadata) ContigAt(fwdPos int64) (tid int, localPos int64, ok bool) {
	if fwdPos < 0 || fwdPos >= m.TotalLength {
		return -1, 0, false
	}
	lo, hi := 0, len(m.Contigs)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.Contigs[mid].Offset <= fwdPos {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	tid = lo - 1
	if tid < 0 {
		return -1, 0, false
	}
	return tid, fwdPos - m.Contigs[tid].Offset, true
}

// Decode turns an absolute position (possibly in the reverse-complement
// half) into a (tid, localPos, reverse) triple.
func (m *ReferenceMetadata) Decode(pos int64) (tid int, localPos int64, reverse bool, ok bool) {
	if m.IsReverseStrand(pos) {
		fwd := m.ForwardEquivalent(pos)
		tid, localPos, ok = m.ContigAt(fwd)
		return tid, localPos, true, ok
	}
	tid, localPos, ok = m.ContigAt(pos)
	return tid, localPos, false, ok
}

// SAInterval denotes a suffix-array range [L, U) of suffixes sharing a
// common prefix of length PatternLen, as produced by backward search over
// the FM-index.
type SAInterval struct {
	L, U       int64
	PatternLen int
}

// Size returns the number of suffixes covered by the interval.
func (s SAInterval) Size() int64 { return s.U - s.L }

// Empty reports whether the interval contains no suffixes.
func (s SAInterval) Empty() bool { return s.U <= s.L }

// Seed is one exact match between a read substring and the reference,
// produced by the seeder.
type Seed struct {
	ReadOffset int // 0-based offset of the match's start in the read
	RefPos     int64
	Len        int
}

// ReadEnd returns the offset one past the end of the seed in the read.
func (s Seed) ReadEnd() int { return s.ReadOffset + s.Len }

// RefEnd returns the reference position one past the end of the seed.
func (s Seed) RefEnd() int64 { return s.RefPos + int64(s.Len) }

// Chain is an ordered, collinear run of seeds sharing a consistent
// diagonal, together with the read/reference ranges it spans and its
// weight (count of uniquely-covered read bases).
type Chain struct {
	Seeds     []Seed
	RefBegin  int64
	RefEnd    int64
	ReadBegin int
	ReadEnd   int
	Weight    int
	IsAlt     bool
}

// String gives a short human-readable summary, useful in test failure
// output and debug logging.
func (c *Chain) String() string {
	return fmt.Sprintf("chain[%d seeds, read %d-%d, ref %d-%d, w=%d]",
		len(c.Seeds), c.ReadBegin, c.ReadEnd, c.RefBegin, c.RefEnd, c.Weight)
}

// MemAlnReg is an extended alignment region: the result of running the
// banded Smith-Waterman kernel from a chain anchor, before CIGAR/MD
// reconstruction or classification into primary/secondary/supplementary.
type MemAlnReg struct {
	RefBegin, RefEnd   int64
	ReadBegin, ReadEnd int
	Score              int32
	Sub                int32 // second-best score found in the same DP pass
	SubN               int   // number of occurrences at Sub
	Width              int   // band width actually used
	SeedLen            int   // length of the anchoring seed
	FracRep            float64
	IsAlt              bool
	Secondary          int // index of the region this one is secondary to, or -1
	Hash               uint64

	// Traceback, filled in by the extender and consumed by the CIGAR/MD
	// generator. Nil for regions discarded before traceback.
	Trace *Traceback
}

// TraceOpType enumerates the alignment operations a traceback element can
// represent, independent of final CIGAR letter choice (M vs =/X is decided
// later by the CIGAR generator depending on configuration).
type TraceOpType uint8

const (
	TraceMatch TraceOpType = iota
	TraceMismatch
	TraceIns // consumes query only
	TraceDel // consumes reference only
)

// TraceElem is one run-length element of a traceback, read in
// reference/query order (left to right).
type TraceElem struct {
	Op  TraceOpType
	Len int
}

// Traceback is the run-length-encoded path recovered from a DP matrix,
// covering exactly the [RefBegin,RefEnd)/[ReadBegin,ReadEnd) span of the
// MemAlnReg it belongs to. The CIGAR/MD generator turns this into the final
// operation string and mismatch tag.
type Traceback struct {
	Elems []TraceElem
}

// ReadLen returns the number of read bases spanned by the region.
func (r *MemAlnReg) ReadLen() int { return r.ReadEnd - r.ReadBegin }

// RefLen returns the number of reference bases spanned by the region.
func (r *MemAlnReg) RefLen() int64 { return r.RefEnd - r.RefBegin }

// Orientation enumerates the relative strand/order configuration of a read
// pair, used by the insert-size estimator and pair scorer.
type Orientation int

const (
	OrientationFR Orientation = iota
	OrientationRF
	OrientationFF
	OrientationRR
)

func (o Orientation) String() string {
	switch o {
	case OrientationFR:
		return "FR"
	case OrientationRF:
		return "RF"
	case OrientationFF:
		return "FF"
	case OrientationRR:
		return "RR"
	default:
		return "?"
	}
}

// ScoringParameters collects every tunable penalty and threshold the
// pipeline consults. It is built once from parsed configuration and shared
// read-only by every worker.
type ScoringParameters struct {
	Match           int32
	Mismatch        int32
	GapOpenIns      int32
	GapExtIns       int32
	GapOpenDel      int32
	GapExtDel       int32
	Clip5           int32
	Clip3           int32
	UnpairedPenalty int32

	BandWidth      int
	ZDrop          int32
	MinScore       int32 // regions scoring below this are discarded after extension
	MinSeed        int
	SeedSplitRatio float64
	MaxOcc         int64

	ChainDropRatio float64
	MinChainWeight int

	MaxMateRescue int
	XALimit       int
	XALimitAlt    int

	OverlapSubRatio float64
	XADropRatio     float64

	MarkSplitsAsSecondary bool
	SoftClipSupplementary bool
	Primary5Reorder       bool
	KeepSuppMapq          bool
	SkipMateRescue        bool
	SkipPairing           bool
	IgnoreAlt             bool
	ReadGroupID           string
}

// DefaultScoringParameters returns the conventional BWA-MEM2-family
// defaults; callers override individual fields from parsed flags.
func DefaultScoringParameters() ScoringParameters {
	return ScoringParameters{
		Match:           1,
		Mismatch:        4,
		GapOpenIns:      6,
		GapExtIns:       1,
		GapOpenDel:      6,
		GapExtDel:       1,
		Clip5:           5,
		Clip3:           5,
		UnpairedPenalty: 17,

		BandWidth:      100,
		ZDrop:          100,
		MinScore:       30,
		MinSeed:        19,
		SeedSplitRatio: 1.5,
		MaxOcc:         500,

		ChainDropRatio: 0.5,
		MinChainWeight: 0,

		MaxMateRescue: 50,
		XALimit:       5,
		XALimitAlt:    200,

		OverlapSubRatio: 0.5,
		XADropRatio:     0.8,
	}
}

// InsertSizeDist is the paired-end insert-size model, estimated once per
// batch from the first block of uniquely-mapped high-confidence pairs and
// frozen afterward.
type InsertSizeDist struct {
	Low, High     float64
	Mean, StdDev  float64
	Orientation   Orientation
	NPairsSampled int
}

// InRange reports whether an observed insert size is within the estimated
// plausible range.
func (d *InsertSizeDist) InRange(size float64) bool {
	return size >= d.Low && size <= d.High
}

// IsProperPair reports whether an observed insert size and orientation match
// this distribution closely enough to set the proper-pair flag (0x2).
func (d *InsertSizeDist) IsProperPair(size float64, orientation Orientation) bool {
	return orientation == d.Orientation && d.InRange(size)
}
