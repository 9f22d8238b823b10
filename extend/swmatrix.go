// Package extend implements banded affine-gap Smith-Waterman extension from
// a chain anchor, with Z-dropoff termination and a clip-vs-extend decision
// per flank.
package extend

import "github.com/grailbio/bwamem/align"

// traceOp records which of the three score planes a traceback step came
// from, generalizing the diagonal/right/down traversal of a plain
// edit-distance matrix to the three affine-gap states.
type traceOp uint8

const (
	traceNone traceOp = iota // the anchor cell (0,0): extension starts here
	traceDiag                // H(i-1,j-1): consume one ref and one query base
	traceUp                  // E(i,j-1): consume one query base (insertion)
	traceLeft                // F(i-1,j): consume one ref base (deletion)
)

const negInf int32 = -(1 << 30)

// swMatrix is a banded dynamic-programming scratch buffer, row-major like
// the edit-distance matrix it generalizes, but storing a band of columns
// around the central diagonal per row instead of the full query length, and
// three score planes (H match/mismatch, E insertion-open-or-extend, F
// deletion-open-or-extend) instead of one.
//
// Row i corresponds to reference offset i (1-based query into refWindow,
// row 0 is the boundary row). Column j corresponds to query offset j. Within
// row i, only query offsets in [i-band, i+band] are stored; colOffset maps a
// (i,j) pair to its offset within the row.
type swMatrix struct {
	refLen, qLen int
	band         int
	bandCols     int
	h, e, f      []int32
	trace        []traceOp
}

// newSWMatrix allocates (or, if scratch is non-nil and large enough,
// reuses) a banded matrix sized for the given reference/query lengths and
// half-bandwidth, and writes the boundary conditions. In anchored mode
// (freeRefStart false) the alignment path must start at cell (0,0), the
// anchor; leading gaps along row 0 and column 0 pay affine penalties
// rather than restarting the score at zero the way an unanchored local
// alignment would. With freeRefStart, the path may instead start at any
// reference offset for free, the "fit" shape mate rescue needs: the whole
// read, anywhere in the window.
func newSWMatrix(scratch *swMatrix, refLen, qLen, band int, sc *scoring, freeRefStart bool) *swMatrix {
	bandCols := 2*band + 1
	nCells := (refLen + 1) * bandCols
	if scratch == nil {
		scratch = &swMatrix{}
	}
	if cap(scratch.h) < nCells {
		scratch.h = make([]int32, nCells)
		scratch.e = make([]int32, nCells)
		scratch.f = make([]int32, nCells)
		scratch.trace = make([]traceOp, nCells)
	}
	scratch.refLen, scratch.qLen, scratch.band, scratch.bandCols = refLen, qLen, band, bandCols
	scratch.h = scratch.h[:nCells]
	scratch.e = scratch.e[:nCells]
	scratch.f = scratch.f[:nCells]
	scratch.trace = scratch.trace[:nCells]
	for i := range scratch.h {
		scratch.h[i], scratch.e[i], scratch.f[i] = negInf, negInf, negInf
		scratch.trace[i] = traceNone
	}
	scratch.h[scratch.at(0, 0)] = 0
	for j := 1; j <= band && j <= qLen; j++ {
		idx := scratch.at(0, j)
		scratch.h[idx] = -sc.gapOpenIns - int32(j)*sc.gapExtIns
		scratch.e[idx] = scratch.h[idx]
		scratch.trace[idx] = traceUp
	}
	for i := 1; i <= band && i <= refLen; i++ {
		idx := scratch.at(i, 0)
		if freeRefStart {
			scratch.h[idx] = 0
			scratch.trace[idx] = traceNone
		} else {
			scratch.h[idx] = -sc.gapOpenDel - int32(i)*sc.gapExtDel
			scratch.f[idx] = scratch.h[idx]
			scratch.trace[idx] = traceLeft
		}
	}
	return scratch
}

// colOffset returns the band-relative column for (row i, query offset j),
// and whether j actually falls inside the band at this row.
func (m *swMatrix) colOffset(i, j int) (int, bool) {
	lo := i - m.band
	c := j - lo
	return c, c >= 0 && c < m.bandCols
}

// at returns the flat index for (i,j), assuming j is in-band; callers must
// check colOffset's ok result first.
func (m *swMatrix) at(i, j int) int {
	c, _ := m.colOffset(i, j)
	return i*m.bandCols + c
}

func (m *swMatrix) getH(i, j int) int32 {
	if c, ok := m.colOffset(i, j); ok {
		return m.h[i*m.bandCols+c]
	}
	return negInf
}
func (m *swMatrix) getE(i, j int) int32 {
	if c, ok := m.colOffset(i, j); ok {
		return m.e[i*m.bandCols+c]
	}
	return negInf
}
func (m *swMatrix) getF(i, j int) int32 {
	if c, ok := m.colOffset(i, j); ok {
		return m.f[i*m.bandCols+c]
	}
	return negInf
}

// computeCell fills in H(i,j), E(i,j), F(i,j) and the traceback op for
// H(i,j), given the substitution score for aligning refBase against
// qBase. It mirrors the teacher's edit-distance computeCell: read the three
// already-computed predecessors, take the best, record which one won.
func (m *swMatrix) computeCell(i, j int, subScore int32, sc *scoring) {
	c, ok := m.colOffset(i, j)
	if !ok {
		return
	}
	idx := i*m.bandCols + c

	e := max32(m.getH(i, j-1)-sc.gapOpenIns-sc.gapExtIns, m.getE(i, j-1)-sc.gapExtIns)
	f := max32(m.getH(i-1, j)-sc.gapOpenDel-sc.gapExtDel, m.getF(i-1, j)-sc.gapExtDel)
	diag := m.getH(i-1, j-1) + subScore

	best, op := diag, traceDiag
	if e > best {
		best, op = e, traceUp
	}
	if f > best {
		best, op = f, traceLeft
	}

	m.h[idx] = best
	m.e[idx] = e
	m.f[idx] = f
	m.trace[idx] = op
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// scoring is the subset of align.ScoringParameters the DP kernel needs,
// extracted once per extension call so the inner loop touches plain int32
// fields instead of a pointer chase.
type scoring struct {
	match, mismatch       int32
	gapOpenIns, gapExtIns int32
	gapOpenDel, gapExtDel int32
}

func scoringFrom(p *align.ScoringParameters) *scoring {
	return &scoring{
		match: p.Match, mismatch: p.Mismatch,
		gapOpenIns: p.GapOpenIns, gapExtIns: p.GapExtIns,
		gapOpenDel: p.GapOpenDel, gapExtDel: p.GapExtDel,
	}
}

func (sc *scoring) subst(refBase, qBase align.Base) int32 {
	if refBase == qBase {
		return sc.match
	}
	return -sc.mismatch
}
