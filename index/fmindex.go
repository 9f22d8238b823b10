// Package index implements the FM-Index backward-search engine: a
// Burrows-Wheeler transform of the concatenated forward and
// reverse-complement reference, occurrence-count checkpoints for rank
// queries, and sampled suffix-array positions for decoding hits.
package index

import (
	"github.com/dgryski/go-farm"
	"github.com/grailbio/bwamem/align"
)

// bwtTable is one directional BWT index: the transform itself, its
// occurrence checkpoints, the cumulative less-than-symbol counts, and
// sparse suffix-array samples for position decoding.
type bwtTable struct {
	bwt        []byte
	occ        *occTable
	c          [5]int64 // c[s] = # of suffixes starting with a symbol < s
	sa         []int64  // sa[i] is valid only where (i*sampleRate) is a real BWT row
	sampleRate int
	totalLen   int64
	checksum   uint64 // farmhash of bwt
}

// newBWTTable builds the checkpoint and cumulative-count tables for a raw
// BWT array. sa must contain one entry per sampleRate-th BWT row (sa[i]
// corresponds to BWT row i*sampleRate).
func newBWTTable(bwt []byte, sa []int64, sampleRate int) *bwtTable {
	var c [5]int64
	var counts [4]int64
	for _, s := range bwt {
		if s < 4 {
			counts[s]++
		}
	}
	c[0] = 0
	for s := 1; s <= 4; s++ {
		c[s] = c[s-1] + counts[s-1]
	}
	return &bwtTable{
		bwt:        bwt,
		occ:        buildOccTable(bwt, defaultCheckpointInterval),
		c:          c,
		sa:         sa,
		sampleRate: sampleRate,
		totalLen:   int64(len(bwt)),
		checksum:   farm.Hash64(bwt),
	}
}

// extend performs one backward-search step: given the interval matching the
// current pattern suffix, return the interval matching that pattern with
// base prepended.
func (t *bwtTable) extend(iv align.SAInterval, base align.Base) align.SAInterval {
	if iv.Empty() || base > 3 {
		return align.SAInterval{}
	}
	l := t.c[base] + t.occ.Occ(base, iv.L)
	u := t.c[base] + t.occ.Occ(base, iv.U)
	return align.SAInterval{L: l, U: u, PatternLen: iv.PatternLen + 1}
}

// lf applies the LF-mapping at BWT row pos: the row whose suffix is one
// character longer, obtained by prepending bwt[pos] to the current suffix.
func (t *bwtTable) lf(pos int64) int64 {
	sym := t.bwt[pos]
	if sym >= 4 {
		return t.c[4] // sentinel row: the preceding suffix is the lone sentinel suffix, which sorts last, at row c[4]
	}
	return t.c[sym] + t.occ.Occ(sym, pos)
}

// saLookup decodes the absolute reference position of the k-th suffix in
// interval iv, walking LF-mappings until a sampled row is reached.
func (t *bwtTable) saLookup(iv align.SAInterval, k int64) (int64, bool) {
	pos := iv.L + k
	if pos < 0 || pos >= iv.U {
		return 0, false
	}
	var steps int64
	for pos%int64(t.sampleRate) != 0 {
		pos = t.lf(pos)
		steps++
		if steps > t.totalLen {
			return 0, false
		}
	}
	sample := t.sa[pos/int64(t.sampleRate)]
	return (sample + steps) % t.totalLen, true
}

// FMIndex is the bidirectional backward-search engine over a reference's
// packed forward+reverse-complement text, as described in spec.md §4.1.
// Forward extension is implemented by running backward search on a second
// table built over the reversed text and tracking interval sizes only;
// absolute positions are decoded exclusively through the primary table once
// a full seed's bounds are known, which is both simpler to get right and
// matches how the reference implementation ultimately resolves hit
// positions (a single final lookup per confirmed match, not one per
// extension step).
type FMIndex struct {
	fwd *bwtTable // backward search over text T (forward + revcomp reference)
	rev *bwtTable // backward search over reverse(T), used for forward extension
	Ref *align.ReferenceMetadata

	// mmapped holds the raw memory-mapped region backing fwd/rev when the
	// index was obtained via Load, so Close can unmap the exact range it
	// was given. Nil when the index was built in-process (e.g. in tests).
	mmapped []byte
}

// NewFMIndex assembles an FMIndex from its two directional tables. Callers
// normally obtain these via Load rather than calling this directly.
func NewFMIndex(fwdBWT, revBWT []byte, fwdSA, revSA []int64, sampleRate int, ref *align.ReferenceMetadata) *FMIndex {
	return &FMIndex{
		fwd: newBWTTable(fwdBWT, fwdSA, sampleRate),
		rev: newBWTTable(revBWT, revSA, sampleRate),
		Ref: ref,
	}
}

// InitInterval returns the full-index interval with which backward search
// begins: every suffix, zero pattern length matched so far.
func (idx *FMIndex) InitInterval() align.SAInterval {
	return align.SAInterval{L: 0, U: idx.fwd.totalLen, PatternLen: 0}
}

// ExtendBackward extends iv by prepending base, per spec.md §4.1.
func (idx *FMIndex) ExtendBackward(iv align.SAInterval, base align.Base) align.SAInterval {
	return idx.fwd.extend(iv, base)
}

// ExtendForward extends iv by appending base, implemented via the
// reverse-text table as documented on FMIndex.
func (idx *FMIndex) ExtendForward(iv align.SAInterval, base align.Base) align.SAInterval {
	return idx.rev.extend(iv, base)
}

// SALookup decodes the absolute position (in [0, 2*TotalLength)) of the
// k-th hit in interval iv, via the forward table's sampled suffix array.
func (idx *FMIndex) SALookup(iv align.SAInterval, k int64) (int64, bool) {
	return idx.fwd.saLookup(iv, k)
}

// Checksum returns the farmhash of the forward BWT. Load does not compare it
// against anything: the index file format records no checksum.
func (idx *FMIndex) Checksum() uint64 { return idx.fwd.checksum }
