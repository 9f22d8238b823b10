package output

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/classify"
	"github.com/grailbio/bwamem/seq"
)

func testBuilder(t *testing.T) (*Builder, *align.ScoringParameters) {
	t.Helper()
	params := align.DefaultScoringParameters()
	meta := align.NewReferenceMetadata([]align.Contig{{Name: "chr1", Length: 100}})
	bases := make([]align.Base, 100)
	ref := seq.NewPackedReference(meta, bases)
	b, err := NewBuilder(&params, meta, ref, "")
	require.NoError(t, err)
	return b, &params
}

func matchRegion(refBegin, refEnd int64, readBegin, readEnd int, score int32) align.MemAlnReg {
	return align.MemAlnReg{
		RefBegin: refBegin, RefEnd: refEnd,
		ReadBegin: readBegin, ReadEnd: readEnd,
		Score:     score,
		Secondary: -1,
		Trace:     &align.Traceback{Elems: []align.TraceElem{{Op: align.TraceMatch, Len: readEnd - readBegin}}},
	}
}

func testRead(n int) *align.ReadSequence {
	bases := make([]align.Base, n)
	quals := make([]byte, n)
	for i := range quals {
		quals[i] = 30
	}
	return &align.ReadSequence{Name: "q", Bases: bases, Quals: quals}
}

func findAux(recAux sam.AuxFields, tag string) (interface{}, bool) {
	for _, a := range recAux {
		if a.Tag() == sam.NewTag(tag) {
			return a.Value(), true
		}
	}
	return nil, false
}

func TestBuildPrimaryAndSupplementary(t *testing.T) {
	b, _ := testBuilder(t)
	read := testRead(40)
	regions := []align.MemAlnReg{
		matchRegion(10, 30, 0, 20, 20),
		matchRegion(50, 70, 20, 40, 18),
	}
	res := classify.Result{Primary: 0, Supplementary: []int{1}}

	recs, err := b.Build(read, regions, res, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	prim, supp := recs[0], recs[1]
	assert.Equal(t, sam.Flags(0), prim.Flags&(sam.Secondary|sam.Supplementary))
	assert.Equal(t, 10, prim.Pos)
	assert.Equal(t, "20M20S", prim.Cigar.String())
	assert.Equal(t, 40, len(prim.Seq.Expand()))

	assert.Equal(t, sam.Supplementary, supp.Flags&sam.Supplementary)
	assert.Equal(t, 50, supp.Pos)
	assert.Equal(t, "20H20M", supp.Cigar.String())
	// Hard clipping drops the clipped bases from SEQ and QUAL.
	assert.Equal(t, 20, len(supp.Seq.Expand()))
	assert.Equal(t, 20, len(supp.Qual))

	// SA tags are reciprocal: each record lists the others.
	saPrim, ok := findAux(prim.AuxFields, "SA")
	require.True(t, ok)
	assert.Equal(t, "chr1,51,+,20H20M,49,0;", saPrim)
	saSupp, ok := findAux(supp.AuxFields, "SA")
	require.True(t, ok)
	assert.Equal(t, "chr1,11,+,20M20S,60,0;", saSupp)
}

func TestBuildSoftClipSupplementaryOption(t *testing.T) {
	b, params := testBuilder(t)
	params.SoftClipSupplementary = true
	read := testRead(40)
	regions := []align.MemAlnReg{
		matchRegion(10, 30, 0, 20, 20),
		matchRegion(50, 70, 20, 40, 18),
	}
	recs, err := b.Build(read, regions, classify.Result{Primary: 0, Supplementary: []int{1}}, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "20S20M", recs[1].Cigar.String())
	assert.Equal(t, 40, len(recs[1].Seq.Expand()))
}

func TestBuildXATag(t *testing.T) {
	b, _ := testBuilder(t)
	read := testRead(20)
	regions := []align.MemAlnReg{
		matchRegion(10, 30, 0, 20, 20),
		matchRegion(60, 80, 0, 20, 18),
	}
	recs, err := b.Build(read, regions, classify.Result{Primary: 0, XA: []int{1}}, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	xa, ok := findAux(recs[0].AuxFields, "XA")
	require.True(t, ok)
	assert.Equal(t, "chr1,+61,20M,0;", xa)
	_, hasSA := findAux(recs[0].AuxFields, "SA")
	assert.False(t, hasSA)
}

func TestBuildReverseStrand(t *testing.T) {
	b, _ := testBuilder(t)
	read := testRead(20)
	// Span in the reverse-complement half: forward-space [30, 50).
	regions := []align.MemAlnReg{matchRegion(150, 170, 0, 20, 20)}
	recs, err := b.Build(read, regions, classify.Result{Primary: 0}, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, sam.Reverse, rec.Flags&sam.Reverse)
	assert.Equal(t, 30, rec.Pos)
	assert.Equal(t, "20M", rec.Cigar.String())
	// All-A read comes out reverse-complemented as all-T.
	assert.Equal(t, "TTTTTTTTTTTTTTTTTTTT", string(rec.Seq.Expand()))
}

func TestBuildPairedFlagsAndMateFields(t *testing.T) {
	b, _ := testBuilder(t)
	read := testRead(20)
	regions := []align.MemAlnReg{matchRegion(10, 30, 0, 20, 20)}
	pair := &PairInfo{
		First:       true,
		Proper:      true,
		MateMapped:  true,
		MateReverse: true,
		MateTid:     0,
		MatePos:     60,
		MateMapq:    55,
		MateCigar:   "20M",
		ISize:       70,
	}
	recs, err := b.Build(read, regions, classify.Result{Primary: 0}, pair)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	wantFlags := sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read1
	assert.Equal(t, wantFlags, rec.Flags)
	assert.Equal(t, 60, rec.MatePos)
	assert.Equal(t, 70, rec.TempLen)
	mc, ok := findAux(rec.AuxFields, "MC")
	require.True(t, ok)
	assert.Equal(t, "20M", mc)
}

func TestUnmappedWithMappedMate(t *testing.T) {
	b, _ := testBuilder(t)
	read := testRead(20)
	pair := &PairInfo{First: false, MateMapped: true, MateTid: 0, MatePos: 5}
	rec := b.Unmapped(read, pair)

	assert.Equal(t, sam.Unmapped, rec.Flags&sam.Unmapped)
	assert.Equal(t, sam.Read2, rec.Flags&sam.Read2)
	// The unmapped mate borrows its partner's coordinate.
	assert.Equal(t, 5, rec.Pos)
	require.NotNil(t, rec.Ref)
	assert.Equal(t, "chr1", rec.Ref.Name())
}
