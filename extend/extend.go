package extend

import "github.com/grailbio/bwamem/align"

// FlankState names the terminal condition of one left- or right-extension
// call. Only Finalized is observable by callers; the others describe why
// the DP loop stopped early, which the Extender folds into its clip
// decision and exposes for logging/metrics.
type FlankState int

const (
	Bounded  FlankState = iota // ran to the edge of the reference/query window
	ZDropped                   // running best fell zDrop below the anti-diagonal max
	WallHit                    // hit the configured band-overflow limit
	Finalized
)

// RefReader fetches packed reference bases for extension. pos is an
// absolute coordinate in the bidirectional reference space (spec.md §3); n
// bases starting at pos are returned, or fewer at a contig boundary.
type RefReader interface {
	Bases(pos int64, n int) []align.Base
}

// flankResult is the output of extending one flank (left or right) from a
// seed boundary.
type flankResult struct {
	score     int32
	sub       int32
	subN      int
	readLen   int
	refLen    int
	trace     []align.TraceElem
	state     FlankState
	widthUsed int
}

// Job is one extension request: the unit of work a batch backend consumes.
type Job struct {
	Read         []align.Base
	Seed         align.Seed
	AnchorRefPos int64
}

// BatchExtender is the contract an accelerated (e.g. GPU) Smith-Waterman
// backend must satisfy to replace the scalar extension path: same inputs,
// same outputs, one region per job, chosen by configuration. No such
// backend ships here; Extender is the scalar implementation the pipeline
// uses.
type BatchExtender interface {
	ExtendBatch(ref RefReader, jobs []Job) []*align.MemAlnReg
}

// Extender runs the banded affine-gap Smith-Waterman kernel used to grow a
// chain anchor into a full MemAlnReg. It owns reusable DP scratch so a
// worker can extend many reads without allocating a fresh matrix per call.
type Extender struct {
	params  *align.ScoringParameters
	sc      *scoring
	scratch *swMatrix
}

// NewExtender builds an Extender bound to the given scoring parameters. The
// returned value is not safe for concurrent use; each worker goroutine
// should own one.
func NewExtender(params *align.ScoringParameters) *Extender {
	return &Extender{params: params, sc: scoringFrom(params)}
}

// Extend grows the anchoring seed into a MemAlnReg by separately extending
// left (toward lower read/ref offsets) and right (toward higher offsets),
// then stitching the two flanks and the seed itself into one traceback.
// read is the full read in packed form; ref supplies reference bases on
// demand. anchorRefPos is the absolute reference position aligned with
// read[seed.ReadOffset].
func (ex *Extender) Extend(read []align.Base, ref RefReader, seed align.Seed, anchorRefPos int64) *align.MemAlnReg {
	p := ex.params
	band := p.BandWidth

	leftReadLen := seed.ReadOffset
	leftRead := reverseBases(read[:leftReadLen])
	leftRefWindow := windowLen(leftReadLen, band)
	leftRefBases := ref.Bases(anchorRefPos-int64(leftRefWindow), leftRefWindow)
	leftRef := reverseBases(leftRefBases)
	leftClipPenalty := p.Clip5

	left := ex.extendFlank(leftRead, leftRef, band, leftClipPenalty)

	rightReadStart := seed.ReadEnd()
	rightRead := read[rightReadStart:]
	rightRefWindow := windowLen(len(rightRead), band)
	rightRef := ref.Bases(seed.RefEnd(), rightRefWindow)
	rightClipPenalty := p.Clip3

	right := ex.extendFlank(rightRead, rightRef, band, rightClipPenalty)

	seedScore := int32(seed.Len) * p.Match
	total := left.score + seedScore + right.score

	region := &align.MemAlnReg{
		RefBegin:  anchorRefPos - int64(left.refLen),
		RefEnd:    seed.RefEnd() + int64(right.refLen),
		ReadBegin: seed.ReadOffset - left.readLen,
		ReadEnd:   seed.ReadEnd() + right.readLen,
		Score:     total,
		SeedLen:   seed.Len,
		Width:     maxInt(left.widthUsed, right.widthUsed),
	}
	if left.sub > right.sub {
		region.Sub, region.SubN = left.sub, left.subN
	} else {
		region.Sub, region.SubN = right.sub, right.subN
	}

	// traceback emits runs end-to-start. The left flank ran over reversed
	// slices, so its end-to-start emission already reads left-to-right in
	// genome order; the right flank's must be reversed.
	elems := make([]align.TraceElem, 0, len(left.trace)+len(right.trace)+1)
	elems = append(elems, left.trace...)
	elems = appendTraceRun(elems, align.TraceMatch, seed.Len)
	elems = append(elems, reverseTrace(right.trace)...)
	region.Trace = &align.Traceback{Elems: coalesce(elems)}

	return region
}

// Fit aligns the whole of read against the reference window
// [windowBegin, windowBegin+windowLen), with a free choice of start and
// end offset within the window: the "glocal" shape mate rescue needs. It
// returns the best-fitting region, or ok=false when no placement scores
// above zero.
func (ex *Extender) Fit(read []align.Base, ref RefReader, windowBegin int64, windowSpan int) (region *align.MemAlnReg, ok bool) {
	refBases := ref.Bases(windowBegin, windowSpan)
	if len(read) == 0 || len(refBases) == 0 {
		return nil, false
	}
	band := len(refBases)
	m := newSWMatrix(ex.scratch, len(refBases), len(read), band, ex.sc, true)
	ex.scratch = m

	best := negInf
	bestI := 0
	var sub int32
	var subN int
	for i := 1; i <= len(refBases); i++ {
		for j := 1; j <= len(read); j++ {
			subScore := ex.sc.subst(refBases[i-1], read[j-1])
			m.computeCell(i, j, subScore, ex.sc)
			if j != len(read) {
				continue
			}
			v := m.h[m.at(i, j)]
			switch {
			case v > best:
				if best > sub {
					sub, subN = best, 1
				}
				best, bestI = v, i
			case v == best && i != bestI:
				subN++
			case v > sub && v < best:
				sub, subN = v, 1
			}
		}
	}
	if best <= 0 {
		return nil, false
	}

	raw := m.traceback(bestI, len(read), refBases, read)
	elems := reverseTrace(raw)
	refSpan := 0
	for _, e := range elems {
		if e.Op != align.TraceIns {
			refSpan += e.Len
		}
	}
	return &align.MemAlnReg{
		RefBegin:  windowBegin + int64(bestI-refSpan),
		RefEnd:    windowBegin + int64(bestI),
		ReadBegin: 0,
		ReadEnd:   len(read),
		Score:     best,
		Sub:       max32(sub, 0),
		SubN:      subN,
		Width:     band,
		Trace:     &align.Traceback{Elems: elems},
	}, true
}

func windowLen(readLen, band int) int {
	w := readLen + band
	if w < band {
		w = band
	}
	return w
}

// extendFlank runs the DP kernel on one flank, where read and ref are
// already oriented so that index 0 is closest to the anchor (i.e. the left
// flank's read/ref slices are pre-reversed by the caller). This lets a
// single routine implement both "extend right" and "extend left" exactly as
// the classic one-sided-extension trick does.
func (ex *Extender) extendFlank(read, ref []align.Base, band int, clipPenalty int32) flankResult {
	if len(read) == 0 || len(ref) == 0 {
		return flankResult{state: Bounded}
	}
	m := newSWMatrix(ex.scratch, len(ref), len(read), band, ex.sc, false)
	ex.scratch = m

	var globalBest int32
	var bestI, bestJ int
	var sub int32
	var subN int
	toEnd := negInf // best score among cells that consume the whole flank read
	toEndI := 0
	state := Bounded

rows:
	for i := 1; i <= len(ref); i++ {
		lo := i - band
		if lo < 1 {
			lo = 1
		}
		hi := i + band
		if hi > len(read) {
			hi = len(read)
		}
		rowBest := int32(0)
		for j := lo; j <= hi; j++ {
			subScore := ex.sc.subst(ref[i-1], read[j-1])
			m.computeCell(i, j, subScore, ex.sc)
			v := m.h[m.at(i, j)]
			if v > rowBest {
				rowBest = v
			}
			if j == len(read) && v > toEnd {
				toEnd, toEndI = v, i
			}
			switch {
			case v > globalBest:
				if globalBest > sub {
					sub, subN = globalBest, 1
				}
				globalBest, bestI, bestJ = v, i, j
			case v == globalBest && (i != bestI || j != bestJ):
				subN++
			case v > sub && v < globalBest:
				sub, subN = v, 1
			}
		}
		if globalBest > 0 && globalBest-rowBest > ex.params.ZDrop {
			state = ZDropped
			break rows
		}
	}

	// Clip decision: reaching the end of the read (clip nothing) wins unless
	// the best local stop beats it by more than the clip penalty.
	localBest := globalBest
	endI, endJ := bestI, bestJ
	if toEnd >= localBest-clipPenalty {
		endI, endJ = toEndI, len(read)
		localBest = toEnd
	}

	trace := m.traceback(endI, endJ, ref, read)
	_ = state // Bounded/ZDropped/WallHit all collapse to Finalized once
	// score and traceback are read out; only Finalized is observable outside
	// this function, per the flank state machine.

	return flankResult{
		score:     localBest,
		sub:       sub,
		subN:      subN,
		readLen:   endJ,
		refLen:    endI,
		trace:     trace,
		state:     Finalized,
		widthUsed: band,
	}
}

// traceback walks the trace plane from (endI,endJ) back to an alignment
// start (a traceNone cell), emitting run-length elements in reverse
// (end-to-start) order. ref and read are the same band-relative slices the
// DP loop ran over, needed to tell a match diagonal step from a mismatch
// one (the DP score plane alone doesn't retain that distinction). Boundary
// cells carry gap ops in anchored mode and traceNone in free-ref-start
// mode, so the walk needs no special-casing for either.
func (m *swMatrix) traceback(i, j int, ref, read []align.Base) []align.TraceElem {
	var elems []align.TraceElem
	for i > 0 || j > 0 {
		c, ok := m.colOffset(i, j)
		if !ok {
			break
		}
		op := m.trace[i*m.bandCols+c]
		switch op {
		case traceDiag:
			step := align.TraceMatch
			if ref[i-1] != read[j-1] {
				step = align.TraceMismatch
			}
			elems = appendTraceRun(elems, step, 1)
			i--
			j--
		case traceUp:
			elems = appendTraceRun(elems, align.TraceIns, 1)
			j--
		case traceLeft:
			elems = appendTraceRun(elems, align.TraceDel, 1)
			i--
		case traceNone:
			i, j = 0, 0
		}
	}
	return elems
}

// appendTraceRun appends n units of op to elems, merging into the previous
// element when it has the same op (the traceback above emits one unit at a
// time so almost every call merges).
func appendTraceRun(elems []align.TraceElem, op align.TraceOpType, n int) []align.TraceElem {
	if n <= 0 {
		return elems
	}
	if len(elems) > 0 && elems[len(elems)-1].Op == op {
		elems[len(elems)-1].Len += n
		return elems
	}
	return append(elems, align.TraceElem{Op: op, Len: n})
}

// coalesce merges adjacent equal-op runs, which can occur at the seam
// between the reversed left flank, the seed run, and the right flank.
func coalesce(elems []align.TraceElem) []align.TraceElem {
	out := elems[:0]
	for _, e := range elems {
		out = appendTraceRun(out, e.Op, e.Len)
	}
	return out
}

func reverseBases(b []align.Base) []align.Base {
	out := make([]align.Base, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func reverseTrace(elems []align.TraceElem) []align.TraceElem {
	out := make([]align.TraceElem, len(elems))
	for i, e := range elems {
		out[len(elems)-1-i] = e
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
