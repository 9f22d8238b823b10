// Package output assembles the final alignment records for one read from
// its classified region set, per spec.md §4.9: flag computation, coordinate
// decoding, CIGAR/MD generation, mate fields, and the auxiliary tag block.
package output

import (
	"bytes"
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/cigar"
	"github.com/grailbio/bwamem/classify"
	"github.com/grailbio/bwamem/extend"
	"github.com/grailbio/bwamem/mapq"
	"github.com/grailbio/bwamem/seq"
)

// Sink accepts one complete record per call. Records handed to Write are
// move-only: the sink owns them afterward and typically returns them to the
// record free pool once serialized. An error from Write is fatal to the
// batch.
type Sink interface {
	Write(rec *Record) error
}

// PairInfo carries the pairing context for one mate's records, computed by
// the paired-end resolver. Nil PairInfo means single-end.
type PairInfo struct {
	First       bool // read1 of the pair (flag 0x40), else read2 (0x80)
	Proper      bool // both mates concordant with the insert-size model
	MateMapped  bool
	MateReverse bool
	MateTid     int
	MatePos     int64 // 0-based
	MateMapq    int
	MateCigar   string
	ISize       int // signed template length; 0 when mates are on different contigs
}

// Builder turns classified regions into records. It is built once per
// aligner and shared read-only by every worker.
type Builder struct {
	Params *align.ScoringParameters
	Meta   *align.ReferenceMetadata
	Ref    extend.RefReader
	Mapq   *mapq.Estimator

	refs   []*sam.Reference
	header *sam.Header
}

// NewBuilder constructs a Builder, the sam.Reference table matching meta's
// contig list, and the header that assigns the references their ids.
// rgLine, when non-empty, is a raw "@RG\t..." header line carried into the
// output header verbatim.
func NewBuilder(params *align.ScoringParameters, meta *align.ReferenceMetadata, ref extend.RefReader, rgLine string) (*Builder, error) {
	refs := make([]*sam.Reference, len(meta.Contigs))
	for i, c := range meta.Contigs {
		r, err := sam.NewReference(c.Name, "", "", int(c.Length), nil, nil)
		if err != nil {
			return nil, err
		}
		refs[i] = r
	}
	var text []byte
	if rgLine != "" {
		text = []byte(rgLine + "\n")
	}
	header, err := sam.NewHeader(text, refs)
	if err != nil {
		return nil, err
	}
	return &Builder{
		Params: params,
		Meta:   meta,
		Ref:    ref,
		Mapq:   mapq.NewEstimator(params),
		refs:   refs,
		header: header,
	}, nil
}

// Header returns the SAM header carrying the builder's reference table,
// suitable for handing to a SAM/BAM writer sink.
func (b *Builder) Header() *sam.Header { return b.header }

// Refs exposes the reference table so callers can resolve tids.
func (b *Builder) Refs() []*sam.Reference { return b.refs }

// aln is one region rendered into record coordinates: CIGAR built, position
// decoded, read range reflected into the record's orientation.
type aln struct {
	regionIdx int
	res       cigar.Result
	tid       int
	pos       int64 // 0-based within contig
	reverse   bool
	mapq      int
	// Read range in record orientation (i.e. already reflected for
	// reverse-strand alignments), used to slice SEQ/QUAL on hard clips.
	readBegin, readEnd int
}

// render builds the aln for one region. Reverse-strand regions (those whose
// span lies in the reverse-complement half of the coordinate space) are
// reflected into forward coordinates first: the traceback is reversed and
// the read range mirrored, so the emitted CIGAR and MD read left-to-right
// along the forward reference strand as SAM requires.
func (b *Builder) render(read *align.ReadSequence, regions []align.MemAlnReg, idx int, style cigar.ClipStyle) (aln, error) {
	region := regions[idx]
	readLen := read.Len()
	reverse := b.Meta.IsReverseStrand(region.RefBegin)
	if reverse {
		l2 := 2 * b.Meta.TotalLength
		region.RefBegin, region.RefEnd = l2-regions[idx].RefEnd, l2-regions[idx].RefBegin
		region.ReadBegin, region.ReadEnd = readLen-regions[idx].ReadEnd, readLen-regions[idx].ReadBegin
		region.Trace = &align.Traceback{Elems: reversedTrace(regions[idx].Trace.Elems)}
	}
	refBases := b.Ref.Bases(region.RefBegin, int(region.RefEnd-region.RefBegin))
	if int64(len(refBases)) != region.RefEnd-region.RefBegin {
		return aln{}, fmt.Errorf("output: region [%d,%d) extends past the reference", region.RefBegin, region.RefEnd)
	}
	res := cigar.Build(&region, readLen, refBases, cigar.Opts{Clip: style})
	tid, pos, ok := b.Meta.ContigAt(res.RefBegin)
	if !ok {
		return aln{}, fmt.Errorf("output: position %d outside any contig", res.RefBegin)
	}
	if endTid, _, ok := b.Meta.ContigAt(res.RefEnd - 1); !ok || endTid != tid {
		return aln{}, fmt.Errorf("output: region [%d,%d) straddles a contig boundary", res.RefBegin, res.RefEnd)
	}
	return aln{
		regionIdx: idx,
		res:       res,
		tid:       tid,
		pos:       pos,
		reverse:   reverse,
		readBegin: region.ReadBegin,
		readEnd:   region.ReadEnd,
	}, nil
}

func reversedTrace(elems []align.TraceElem) []align.TraceElem {
	out := make([]align.TraceElem, len(elems))
	for i, e := range elems {
		out[len(elems)-1-i] = e
	}
	return out
}

// Placement is the record-level geometry of one rendered region: what the
// partner's mate fields and MC/MQ tags need to know about it.
type Placement struct {
	Cigar   sam.Cigar
	Mapq    int
	Tid     int
	Pos     int64 // 0-based within contig
	Reverse bool
}

// PrimaryPlacement renders regions[idx] the way Build renders a primary
// (soft-clipped) and reports its placement. The paired-end resolver calls
// this once per mate to fill the other mate's PairInfo.
func (b *Builder) PrimaryPlacement(read *align.ReadSequence, regions []align.MemAlnReg, idx int) (Placement, error) {
	a, err := b.render(read, regions, idx, cigar.ClipSoft)
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		Cigar:   a.res.Cigar,
		Mapq:    b.Mapq.Estimate(&regions[idx], read.Len()),
		Tid:     a.tid,
		Pos:     a.pos,
		Reverse: a.reverse,
	}, nil
}

// Build assembles the full record set for one read: exactly one record
// without the secondary or supplementary flag, plus one record per
// supplementary region. A read with no surviving region yields a single
// unmapped record. pair is nil for single-end reads.
func (b *Builder) Build(read *align.ReadSequence, regions []align.MemAlnReg, res classify.Result, pair *PairInfo) ([]*Record, error) {
	if res.Primary < 0 {
		return []*Record{b.Unmapped(read, pair)}, nil
	}

	primary, err := b.render(read, regions, res.Primary, cigar.ClipSoft)
	if err != nil {
		return nil, err
	}
	primary.mapq = b.Mapq.Estimate(&regions[res.Primary], read.Len())

	suppStyle := cigar.ClipHard
	if b.Params.SoftClipSupplementary {
		suppStyle = cigar.ClipSoft
	}
	supps := make([]aln, 0, len(res.Supplementary))
	for _, idx := range res.Supplementary {
		a, err := b.render(read, regions, idx, suppStyle)
		if err != nil {
			return nil, err
		}
		a.mapq = b.Mapq.CapSupplementary(
			b.Mapq.Estimate(&regions[idx], read.Len()), primary.mapq, regions[idx].IsAlt)
		supps = append(supps, a)
	}

	xa, err := b.xaTag(read, regions, res.XA)
	if err != nil {
		return nil, err
	}

	recs := make([]*Record, 0, 1+len(supps))
	all := append([]aln{primary}, supps...)
	for i, a := range all {
		rec := b.newRecord(read, &a, pair, i > 0, a.readBegin, a.readEnd)
		if err := b.auxCommon(rec, read, regions, &a, res.Primary == a.regionIdx); err != nil {
			return nil, err
		}
		if len(all) > 1 {
			if err := auxAppend(rec, "SA", saTag(b, all, i)); err != nil {
				return nil, err
			}
		}
		if i == 0 && xa != "" {
			if err := auxAppend(rec, "XA", xa); err != nil {
				return nil, err
			}
		}
		if pair != nil {
			if err := b.auxMate(rec, pair); err != nil {
				return nil, err
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// newRecord fills the fixed record fields for one aln. supplementary marks
// non-first records; seqBegin/seqEnd slice SEQ/QUAL when the CIGAR
// hard-clips.
func (b *Builder) newRecord(read *align.ReadSequence, a *aln, pair *PairInfo, supplementary bool, seqBegin, seqEnd int) *Record {
	rec := GetRecord()
	rec.Name = read.Name
	rec.Ref = b.refs[a.tid]
	rec.Pos = int(a.pos)
	rec.MapQ = byte(a.mapq)
	rec.Cigar = a.res.Cigar
	rec.TempLen = 0
	rec.MatePos = -1

	var flags sam.Flags
	if a.reverse {
		flags |= sam.Reverse
	}
	if supplementary {
		if b.Params.MarkSplitsAsSecondary {
			flags |= sam.Secondary
		} else {
			flags |= sam.Supplementary
		}
	}
	if pair != nil {
		flags |= sam.Paired
		if pair.First {
			flags |= sam.Read1
		} else {
			flags |= sam.Read2
		}
		if pair.Proper {
			flags |= sam.ProperPair
		}
		if pair.MateMapped {
			if pair.MateReverse {
				flags |= sam.MateReverse
			}
			rec.MateRef = b.refs[pair.MateTid]
			rec.MatePos = int(pair.MatePos)
			rec.TempLen = pair.ISize
		} else {
			flags |= sam.MateUnmapped
			// SAM convention: the mapped mate lends its coordinate to the
			// unmapped one, not the other way around.
			rec.MateRef = rec.Ref
			rec.MatePos = rec.Pos
		}
	}
	rec.Flags = flags

	quals := append([]byte(nil), read.Quals...)
	var ascii []byte
	if a.reverse {
		ascii = seq.ToASCIIRevComp(read.Bases)
		seq.ReverseQuals(quals)
	} else {
		ascii = seq.ToASCII(read.Bases)
	}
	hardClipped := false
	for _, op := range a.res.Cigar {
		if op.Type() == sam.CigarHardClipped {
			hardClipped = true
			break
		}
	}
	if hardClipped {
		ascii = ascii[seqBegin:seqEnd]
		quals = quals[seqBegin:seqEnd]
	}
	rec.Seq = sam.NewSeq(ascii)
	rec.Qual = quals
	return rec
}

// auxCommon appends the tags every mapped record carries: NM, MD, AS, and on
// the primary record XS (the second-best score) plus the ALT score-ratio tag
// when the region set touches an ALT contig.
func (b *Builder) auxCommon(rec *Record, read *align.ReadSequence, regions []align.MemAlnReg, a *aln, isPrimary bool) error {
	region := &regions[a.regionIdx]
	if err := auxAppend(rec, "NM", a.res.NM); err != nil {
		return err
	}
	if err := auxAppend(rec, "MD", a.res.MD); err != nil {
		return err
	}
	if err := auxAppend(rec, "AS", int(region.Score)); err != nil {
		return err
	}
	if isPrimary {
		if err := auxAppend(rec, "XS", int(region.Sub)); err != nil {
			return err
		}
		if ratio, ok := altScoreRatio(regions, region); ok {
			if err := auxAppend(rec, "pa", ratio); err != nil {
				return err
			}
		}
	}
	if b.Params.ReadGroupID != "" {
		if err := auxAppend(rec, "RG", b.Params.ReadGroupID); err != nil {
			return err
		}
	}
	return nil
}

// auxMate appends the mate tags of a paired record: MC (mate CIGAR) and MQ
// (mate MAPQ), present only when the mate mapped.
func (b *Builder) auxMate(rec *Record, pair *PairInfo) error {
	if !pair.MateMapped {
		return nil
	}
	if pair.MateCigar != "" {
		if err := auxAppend(rec, "MC", pair.MateCigar); err != nil {
			return err
		}
	}
	return auxAppend(rec, "MQ", pair.MateMapq)
}

// altScoreRatio computes the pa tag: the primary score over the best
// ALT-region score, reported only when an ALT region exists.
func altScoreRatio(regions []align.MemAlnReg, primary *align.MemAlnReg) (float32, bool) {
	var bestAlt int32
	found := false
	for i := range regions {
		if regions[i].IsAlt && regions[i].Score > bestAlt {
			bestAlt = regions[i].Score
			found = true
		}
	}
	if !found || bestAlt <= 0 {
		return 0, false
	}
	return float32(primary.Score) / float32(bestAlt), true
}

// xaTag renders the XA:Z alternate-hit list for the primary record. Each
// alternate placement gets its own soft-clipped CIGAR.
func (b *Builder) xaTag(read *align.ReadSequence, regions []align.MemAlnReg, xa []int) (string, error) {
	if len(xa) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	for _, idx := range xa {
		a, err := b.render(read, regions, idx, cigar.ClipSoft)
		if err != nil {
			return "", err
		}
		strand := byte('+')
		if a.reverse {
			strand = '-'
		}
		fmt.Fprintf(&buf, "%s,%c%d,%s,%d;", b.Meta.Contigs[a.tid].Name, strand, a.pos+1, a.res.Cigar.String(), a.res.NM)
	}
	return buf.String(), nil
}

// saTag renders the SA:Z tag for record self among the read's primary and
// supplementary alignments: every other record in the set, primary first.
func saTag(b *Builder, all []aln, self int) string {
	var buf bytes.Buffer
	for i, a := range all {
		if i == self {
			continue
		}
		strand := byte('+')
		if a.reverse {
			strand = '-'
		}
		fmt.Fprintf(&buf, "%s,%d,%c,%s,%d,%d;", b.Meta.Contigs[a.tid].Name, a.pos+1, strand, a.res.Cigar.String(), a.mapq, a.res.NM)
	}
	return buf.String()
}

// Unmapped builds the record for a read with no surviving alignment.
func (b *Builder) Unmapped(read *align.ReadSequence, pair *PairInfo) *Record {
	rec := GetRecord()
	rec.Name = read.Name
	rec.Ref = nil
	rec.Pos = -1
	rec.MapQ = 0
	rec.MatePos = -1
	rec.TempLen = 0

	flags := sam.Unmapped
	if pair != nil {
		flags |= sam.Paired
		if pair.First {
			flags |= sam.Read1
		} else {
			flags |= sam.Read2
		}
		if pair.MateMapped {
			if pair.MateReverse {
				flags |= sam.MateReverse
			}
			rec.MateRef = b.refs[pair.MateTid]
			rec.MatePos = int(pair.MatePos)
			// The unmapped mate is placed at its partner's coordinate so
			// coordinate sorting keeps the pair adjacent.
			rec.Ref = rec.MateRef
			rec.Pos = rec.MatePos
		} else {
			flags |= sam.MateUnmapped
		}
	}
	rec.Flags = flags
	rec.Seq = sam.NewSeq(seq.ToASCII(read.Bases))
	rec.Qual = append([]byte(nil), read.Quals...)
	if b.Params.ReadGroupID != "" {
		_ = auxAppend(rec, "RG", b.Params.ReadGroupID)
	}
	return rec
}

// auxAppend appends one aux field to rec.
func auxAppend(rec *Record, tag string, value interface{}) error {
	aux, err := sam.NewAux(sam.NewTag(tag), value)
	if err != nil {
		return err
	}
	rec.AuxFields = append(rec.AuxFields, aux)
	return nil
}
