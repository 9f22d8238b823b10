package mem

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/index"
	"github.com/grailbio/bwamem/output"
	"github.com/grailbio/bwamem/seq"
)

// collector is a Sink that keeps every record in memory.
type collector struct {
	recs []*output.Record
}

func (c *collector) Write(rec *output.Record) error {
	c.recs = append(c.recs, rec)
	return nil
}

// deBruijn emits the de Bruijn sequence B(4, n) over the packed alphabet
// via the standard Lyndon-word concatenation. Every n-mer occurs exactly
// once in the cycle, so every (2n)-mer of any prefix occurs at most once:
// references built from it have no long repeats, which keeps the expected
// alignments of these tests unambiguous.
func deBruijn(n int) []align.Base {
	const k = 4
	var out []align.Base
	a := make([]byte, k*n+1)
	var gen func(t, p int)
	gen = func(t, p int) {
		if t > n {
			if n%p == 0 {
				for _, b := range a[1 : p+1] {
					out = append(out, align.Base(b))
				}
			}
			return
		}
		a[t] = a[t-p]
		gen(t+1, p)
		for j := a[t-p] + 1; j < k; j++ {
			a[t] = j
			gen(t+1, t)
		}
	}
	gen(1, 1)
	return out
}

// buildNaiveBWT constructs a BWT and full-density SA array for text by
// brute-force suffix sorting. Test scaffolding only: the production surface
// searches indexes, it never builds them.
func buildNaiveBWT(text []align.Base) ([]byte, []int64) {
	n := len(text)
	padded := append(append([]align.Base{}, text...), 4)
	suffixes := make([]int, n+1)
	for i := range suffixes {
		suffixes[i] = i
	}
	sort.Slice(suffixes, func(a, b int) bool {
		sa, sb := suffixes[a], suffixes[b]
		for sa < len(padded) && sb < len(padded) {
			if padded[sa] != padded[sb] {
				return padded[sa] < padded[sb]
			}
			sa++
			sb++
		}
		return false
	})
	bwt := make([]byte, n+1)
	sa := make([]int64, n+1)
	for row, start := range suffixes {
		if start == 0 {
			bwt[row] = 4
		} else {
			bwt[row] = padded[start-1]
		}
		sa[row] = int64(start)
	}
	return bwt, sa
}

func buildAligner(t *testing.T, refBases []align.Base, opts Opts) *Aligner {
	t.Helper()
	meta := align.NewReferenceMetadata([]align.Contig{{Name: "chr1", Length: int64(len(refBases))}})
	ref := seq.NewPackedReference(meta, refBases)
	text := ref.Text()
	rtext := make([]align.Base, len(text))
	for i, b := range text {
		rtext[len(text)-1-i] = b
	}
	fwdBWT, fwdSA := buildNaiveBWT(text)
	revBWT, revSA := buildNaiveBWT(rtext)
	idx := index.NewFMIndex(fwdBWT, revBWT, fwdSA, revSA, 1, meta)
	a, err := New(idx, ref, opts)
	require.NoError(t, err)
	return a
}

func testOpts() Opts {
	p := align.DefaultScoringParameters()
	p.MinSeed = 8
	p.MinScore = 10
	p.BandWidth = 16
	return Opts{Scoring: p, NumThreads: 2}
}

func revComp(b []align.Base) []align.Base {
	out := make([]align.Base, len(b))
	for i, v := range b {
		out[len(b)-1-i] = align.Complement(v)
	}
	return out
}

func readOf(name string, bases []align.Base) *align.ReadSequence {
	quals := make([]byte, len(bases))
	for i := range quals {
		quals[i] = 30
	}
	return &align.ReadSequence{Name: name, Bases: append([]align.Base(nil), bases...), Quals: quals}
}

func auxValue(t *testing.T, rec *output.Record, tag string) interface{} {
	t.Helper()
	for _, a := range rec.AuxFields {
		if a.Tag() == sam.NewTag(tag) {
			return a.Value()
		}
	}
	t.Fatalf("record %s has no %s tag (aux: %v)", rec.Name, tag, rec.AuxFields)
	return nil
}

func auxInt(t *testing.T, rec *output.Record, tag string) int {
	t.Helper()
	switch v := auxValue(t, rec, tag).(type) {
	case int8:
		return int(v)
	case uint8:
		return int(v)
	case int16:
		return int(v)
	case uint16:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	case int:
		return v
	default:
		t.Fatalf("tag %s has non-integer value %v", tag, v)
		return 0
	}
}

func TestAlignBatchExactMatch(t *testing.T) {
	ref := deBruijn(4)[:60]
	a := buildAligner(t, ref, testOpts())

	read := readOf("q0", ref[8:28])
	var c collector
	require.NoError(t, a.AlignBatch(context.Background(), []*align.ReadSequence{read}, &c))

	require.Len(t, c.recs, 1)
	rec := c.recs[0]
	assert.Equal(t, "q0", rec.Name)
	assert.Equal(t, sam.Flags(0), rec.Flags)
	assert.Equal(t, "chr1", rec.Ref.Name())
	assert.Equal(t, 8, rec.Pos)
	assert.Equal(t, "20M", rec.Cigar.String())
	assert.GreaterOrEqual(t, int(rec.MapQ), 20)
	assert.Equal(t, 0, auxInt(t, rec, "NM"))
	assert.Equal(t, "20", auxValue(t, rec, "MD"))
	assert.Equal(t, 20, auxInt(t, rec, "AS"))
}

func TestAlignBatchSingleMismatch(t *testing.T) {
	ref := deBruijn(4)[:60]
	a := buildAligner(t, ref, testOpts())

	bases := append([]align.Base(nil), ref[8:28]...)
	orig := bases[10] // read offset 10 = reference offset 18
	bases[10] = (orig + 1) % 4
	read := readOf("q0", bases)

	var c collector
	require.NoError(t, a.AlignBatch(context.Background(), []*align.ReadSequence{read}, &c))

	require.Len(t, c.recs, 1)
	rec := c.recs[0]
	assert.Equal(t, 8, rec.Pos)
	assert.Equal(t, "20M", rec.Cigar.String())
	assert.Equal(t, 1, auxInt(t, rec, "NM"))
	refLetter := string([]byte{"ACGT"[orig]})
	assert.Equal(t, fmt.Sprintf("10%s9", refLetter), auxValue(t, rec, "MD"))
}

func TestAlignBatchReverseStrand(t *testing.T) {
	ref := deBruijn(4)[:60]
	a := buildAligner(t, ref, testOpts())

	read := readOf("q0", revComp(ref[8:28]))
	var c collector
	require.NoError(t, a.AlignBatch(context.Background(), []*align.ReadSequence{read}, &c))

	require.Len(t, c.recs, 1)
	rec := c.recs[0]
	assert.Equal(t, sam.Reverse, rec.Flags&sam.Reverse)
	assert.Equal(t, 8, rec.Pos)
	assert.Equal(t, "20M", rec.Cigar.String())
	// SEQ is stored reverse-complemented, i.e. the forward reference text.
	assert.Equal(t, string(seq.ToASCII(ref[8:28])), string(rec.Seq.Expand()))
	assert.Equal(t, 0, auxInt(t, rec, "NM"))
}

func TestAlignBatchUnmappedRead(t *testing.T) {
	ref := deBruijn(4)[:60]
	a := buildAligner(t, ref, testOpts())

	// All-N reads produce no seeds and no alignment.
	read := readOf("q0", []align.Base{4, 4, 4, 4, 4, 4, 4, 4, 4, 4})
	var c collector
	require.NoError(t, a.AlignBatch(context.Background(), []*align.ReadSequence{read}, &c))

	require.Len(t, c.recs, 1)
	rec := c.recs[0]
	assert.Equal(t, sam.Unmapped, rec.Flags&sam.Unmapped)
	assert.Nil(t, rec.Ref)
}

func TestAlignBatchInputOrder(t *testing.T) {
	ref := deBruijn(4)[:80]
	a := buildAligner(t, ref, testOpts())

	var reads []*align.ReadSequence
	for i := 0; i < 6; i++ {
		reads = append(reads, readOf(fmt.Sprintf("q%d", i), ref[i*8:i*8+24]))
	}
	var c collector
	require.NoError(t, a.AlignBatch(context.Background(), reads, &c))

	require.Len(t, c.recs, 6)
	for i, rec := range c.recs {
		assert.Equal(t, fmt.Sprintf("q%d", i), rec.Name)
		assert.Equal(t, i*8, rec.Pos)
	}
}

func TestAlignBatchCancellation(t *testing.T) {
	ref := deBruijn(4)[:60]
	a := buildAligner(t, ref, testOpts())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var c collector
	err := a.AlignBatch(ctx, []*align.ReadSequence{readOf("q0", ref[8:28])}, &c)
	require.Error(t, err)
	assert.Empty(t, c.recs, "a cancelled batch must not emit partial records")
}

func TestAlignPairedBatchProperPair(t *testing.T) {
	ref := deBruijn(4)[:200]
	a := buildAligner(t, ref, testOpts())

	// Two FR pairs with inserts 120 and 140 seed the insert-size model;
	// both are then resolved against it.
	pairs := [][2]*align.ReadSequence{
		{readOf("p0", ref[10:40]), readOf("p0", revComp(ref[100:130]))},
		{readOf("p1", ref[50:80]), readOf("p1", revComp(ref[160:190]))},
	}
	var c collector
	require.NoError(t, a.AlignPairedBatch(context.Background(), pairs, &c))

	dist := a.InsertSizeDist()
	assert.Equal(t, align.OrientationFR, dist.Orientation)
	assert.InDelta(t, 130, dist.Mean, 1)

	require.Len(t, c.recs, 4)
	r1, r2 := c.recs[0], c.recs[1]
	assert.Equal(t, "p0", r1.Name)
	assert.Equal(t, sam.Paired|sam.ProperPair|sam.MateReverse|sam.Read1, r1.Flags)
	assert.Equal(t, 10, r1.Pos)
	assert.Equal(t, 100, r1.MatePos)
	assert.Equal(t, 120, r1.TempLen)
	assert.Equal(t, "30M", auxValue(t, r1, "MC"))

	assert.Equal(t, sam.Paired|sam.ProperPair|sam.Reverse|sam.Read2, r2.Flags)
	assert.Equal(t, 100, r2.Pos)
	assert.Equal(t, 10, r2.MatePos)
	assert.Equal(t, -120, r2.TempLen)
}

func TestAlignPairedBatchMateRescue(t *testing.T) {
	ref := deBruijn(4)[:200]
	opts := testOpts()
	opts.Scoring.MinSeed = 12 // the mutated mate below must stay invisible to seeding
	a := buildAligner(t, ref, opts)

	// First batch freezes the insert-size model (mean 130, stddev 10).
	first := [][2]*align.ReadSequence{
		{readOf("p0", ref[10:40]), readOf("p0", revComp(ref[100:130]))},
		{readOf("p1", ref[50:80]), readOf("p1", revComp(ref[160:190]))},
	}
	var c0 collector
	require.NoError(t, a.AlignPairedBatch(context.Background(), first, &c0))
	require.Greater(t, a.InsertSizeDist().StdDev, 0.0)

	// Second batch: the mate's true locus is ref[140:170), inside the
	// rescue window [20+130-30, 20+130+30), but three mutations cap its
	// longest exact run at 7 bases, below MinSeed, so only rescue can
	// place it.
	mate := append([]align.Base(nil), ref[140:170]...)
	for _, off := range []int{7, 15, 23} {
		mate[off] = (mate[off] + 1) % 4
	}
	second := [][2]*align.ReadSequence{
		{readOf("p2", ref[20:50]), readOf("p2", revComp(mate))},
	}
	var c collector
	require.NoError(t, a.AlignPairedBatch(context.Background(), second, &c))

	require.Len(t, c.recs, 2)
	r2 := c.recs[1]
	assert.Zero(t, r2.Flags&sam.Unmapped, "mate should be rescued, not unmapped")
	assert.Equal(t, sam.Reverse, r2.Flags&sam.Reverse)
	assert.Equal(t, 140, r2.Pos)
	assert.Equal(t, 3, auxInt(t, r2, "NM"))
	// Mate fields are reciprocal after rescue.
	assert.Equal(t, 20, r2.MatePos)
	assert.Equal(t, 140, c.recs[0].MatePos)
}
