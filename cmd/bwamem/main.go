// bwamem aligns short reads from FASTQ files against an FM-indexed
// reference and writes SAM records to stdout.
//
// Usage:
//
//	bwamem [flags] reference.fmi reference.fa r1.fastq [r2.fastq]
//
// With one FASTQ argument reads are aligned single-end; with two they are
// aligned as pairs, with insert-size estimation and mate rescue.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/index"
	"github.com/grailbio/bwamem/interval"
	"github.com/grailbio/bwamem/mem"
	"github.com/grailbio/bwamem/output"
	"github.com/grailbio/bwamem/seq"
)

// Collection of options set via cmdline flags.
type alignFlags struct {
	threads        int
	batchSize      int
	excludeRegions string
	readGroup      string
}

// samSink writes records to a SAM writer and returns each to the record
// free list once serialized.
type samSink struct {
	w *sam.Writer
}

func (s *samSink) Write(rec *output.Record) error {
	err := s.w.Write(&rec.Record)
	output.PutRecord(rec)
	return err
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] reference.fmi reference.fa r1.fastq [r2.fastq]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage

	params := align.DefaultScoringParameters()
	aFlags := alignFlags{}
	flag.IntVar(&aFlags.threads, "threads", 0, "Number of worker goroutines per batch. 0 means one per CPU.")
	flag.IntVar(&aFlags.batchSize, "batch-size", 100000, "Reads (or read pairs) per batch.")
	flag.StringVar(&aFlags.excludeRegions, "exclude-regions", "", "BED file of reference regions to exclude; alignments falling inside are dropped.")
	flag.StringVar(&aFlags.readGroup, "read-group", "", `Read group header line, e.g. "@RG\tID:sample1\tSM:s1". The ID is attached to every record's RG tag.`)

	var match, mismatch, gapOpenIns, gapExtIns, gapOpenDel, gapExtDel, clip5, clip3, unpaired, minScore, zDrop int
	flag.IntVar(&match, "match-score", int(params.Match), "Score for a base match.")
	flag.IntVar(&mismatch, "mismatch-penalty", int(params.Mismatch), "Penalty for a base mismatch.")
	flag.IntVar(&gapOpenIns, "gap-open-ins", int(params.GapOpenIns), "Insertion open penalty.")
	flag.IntVar(&gapExtIns, "gap-ext-ins", int(params.GapExtIns), "Insertion extension penalty.")
	flag.IntVar(&gapOpenDel, "gap-open-del", int(params.GapOpenDel), "Deletion open penalty.")
	flag.IntVar(&gapExtDel, "gap-ext-del", int(params.GapExtDel), "Deletion extension penalty.")
	flag.IntVar(&clip5, "clip5", int(params.Clip5), "5' clipping penalty.")
	flag.IntVar(&clip3, "clip3", int(params.Clip3), "3' clipping penalty.")
	flag.IntVar(&unpaired, "unpaired-penalty", int(params.UnpairedPenalty), "Penalty for a discordant read pair.")
	flag.IntVar(&minScore, "min-score", int(params.MinScore), "Minimum alignment score to emit a region.")
	flag.IntVar(&zDrop, "z-drop", int(params.ZDrop), "Z-dropoff for terminating extension.")
	flag.IntVar(&params.BandWidth, "band-width", params.BandWidth, "Band width for banded extension.")
	flag.IntVar(&params.MinSeed, "min-seed-len", params.MinSeed, "Minimum seed length.")
	flag.Float64Var(&params.SeedSplitRatio, "seed-split-ratio", params.SeedSplitRatio, "Re-seed SMEMs longer than min-seed-len times this ratio.")
	flag.Int64Var(&params.MaxOcc, "max-occ", params.MaxOcc, "Skip seeds with more occurrences than this.")
	flag.Float64Var(&params.ChainDropRatio, "chain-drop-ratio", params.ChainDropRatio, "Drop chains shorter than this fraction of the best overlapping chain.")
	flag.IntVar(&params.MinChainWeight, "min-chain-weight", params.MinChainWeight, "Minimum chain weight.")
	flag.IntVar(&params.MaxMateRescue, "max-mate-rescue", params.MaxMateRescue, "Mate rescue attempts per batch.")
	flag.IntVar(&params.XALimit, "xa-limit", params.XALimit, "Maximum XA hits per read (non-ALT reads).")
	flag.BoolVar(&params.MarkSplitsAsSecondary, "mark-splits-as-secondary", false, "Mark split hits as secondary instead of supplementary.")
	flag.BoolVar(&params.SoftClipSupplementary, "softclip-supplementary", false, "Use soft clipping for supplementary alignments.")
	flag.BoolVar(&params.Primary5Reorder, "primary5-reorder", false, "Make the 5'-most segment of a split read primary.")
	flag.BoolVar(&params.KeepSuppMapq, "keep-supp-mapq", false, "Don't cap supplementary MAPQ to the primary's.")
	flag.BoolVar(&params.SkipMateRescue, "skip-mate-rescue", false, "Skip mate rescue.")
	flag.BoolVar(&params.SkipPairing, "skip-pairing", false, "Skip read pairing (mate rescue still performed unless disabled).")
	flag.BoolVar(&params.IgnoreAlt, "ignore-alt", false, "Treat ALT contigs as part of the primary assembly.")

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if flag.NArg() < 3 || flag.NArg() > 4 {
		usage()
	}
	params.Match = int32(match)
	params.Mismatch = int32(mismatch)
	params.GapOpenIns = int32(gapOpenIns)
	params.GapExtIns = int32(gapExtIns)
	params.GapOpenDel = int32(gapOpenDel)
	params.GapExtDel = int32(gapExtDel)
	params.Clip5 = int32(clip5)
	params.Clip3 = int32(clip3)
	params.UnpairedPenalty = int32(unpaired)
	params.MinScore = int32(minScore)
	params.ZDrop = int32(zDrop)

	opts := mem.Opts{Scoring: params, NumThreads: aFlags.threads}
	if aFlags.readGroup != "" {
		id, err := parseReadGroupID(aFlags.readGroup)
		if err != nil {
			log.Fatalf("invalid -read-group line: %v", err)
		}
		opts.Scoring.ReadGroupID = id
		opts.ReadGroupLine = aFlags.readGroup
	}
	if aFlags.excludeRegions != "" {
		mask, err := interval.NewMaskFromPath(aFlags.excludeRegions)
		if err != nil {
			log.Fatalf("loading -exclude-regions %s: %v", aFlags.excludeRegions, err)
		}
		log.Printf("exclusion mask covers %d contigs", mask.NumContigs())
		opts.Exclude = mask
	}

	indexPath, fastaPath := flag.Arg(0), flag.Arg(1)
	r1Path := flag.Arg(2)
	r2Path := ""
	if flag.NArg() == 4 {
		r2Path = flag.Arg(3)
	}

	idx, err := index.Load(indexPath)
	if err != nil {
		log.Fatalf("loading index %s: %v", indexPath, err)
	}
	defer idx.Close() // nolint: errcheck
	ref := loadReference(ctx, fastaPath, opts.Scoring.IgnoreAlt)
	idx.Ref = ref.Meta

	aligner, err := mem.New(idx, ref, opts)
	if err != nil {
		log.Fatal(err)
	}
	w, err := sam.NewWriter(os.Stdout, aligner.Builder().Header(), sam.FlagDecimal)
	if err != nil {
		log.Fatal(err)
	}
	sink := &samSink{w: w}

	if r2Path == "" {
		err = alignSingle(ctx, aligner, sink, r1Path, aFlags.batchSize)
	} else {
		err = alignPaired(ctx, aligner, sink, r1Path, r2Path, aFlags.batchSize)
	}
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("All done")
}

func loadReference(ctx context.Context, path string, ignoreAlt bool) *seq.PackedReference {
	in, err := file.Open(ctx, path)
	if err != nil {
		log.Fatalf("opening reference %s: %v", path, err)
	}
	defer in.Close(ctx) // nolint: errcheck
	ref, err := seq.ParseFasta(in.Reader(ctx), nil)
	if err != nil {
		log.Fatalf("parsing reference %s: %v", path, err)
	}
	if ignoreAlt {
		for i := range ref.Meta.Contigs {
			ref.Meta.Contigs[i].IsAlt = false
		}
	}
	return ref
}

// parseReadGroupID validates an @RG header line and extracts its ID field.
func parseReadGroupID(line string) (string, error) {
	if !strings.HasPrefix(line, "@RG") {
		return "", fmt.Errorf("line must start with @RG, got %q", line)
	}
	for _, f := range strings.Split(line, "\t") {
		if strings.HasPrefix(f, "ID:") && len(f) > 3 {
			return f[3:], nil
		}
	}
	return "", fmt.Errorf("no ID field in %q", line)
}

// openFASTQ opens a possibly-compressed FASTQ input.
func openFASTQ(ctx context.Context, path string) (io.Reader, func(), error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	closer := func() { in.Close(ctx) } // nolint: errcheck
	return r, closer, nil
}

func alignSingle(ctx context.Context, aligner *mem.Aligner, sink *samSink, r1Path string, batchSize int) error {
	r, closer, err := openFASTQ(ctx, r1Path)
	if err != nil {
		return err
	}
	defer closer()
	sc := seq.NewScanner(r)

	total := 0
	batch := make([]*align.ReadSequence, 0, batchSize)
	for {
		read := &align.ReadSequence{}
		if !sc.Scan(read) {
			break
		}
		batch = append(batch, read)
		if len(batch) == batchSize {
			if err := aligner.AlignBatch(ctx, batch, sink); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := aligner.AlignBatch(ctx, batch, sink); err != nil {
			return err
		}
		total += len(batch)
	}
	log.Printf("aligned %d reads (%d invalid)", total, sc.Invalid)
	return nil
}

func alignPaired(ctx context.Context, aligner *mem.Aligner, sink *samSink, r1Path, r2Path string, batchSize int) error {
	r1, close1, err := openFASTQ(ctx, r1Path)
	if err != nil {
		return err
	}
	defer close1()
	r2, close2, err := openFASTQ(ctx, r2Path)
	if err != nil {
		return err
	}
	defer close2()
	sc := seq.NewPairScanner(r1, r2)

	total := 0
	batch := make([][2]*align.ReadSequence, 0, batchSize)
	for {
		m1, m2 := &align.ReadSequence{}, &align.ReadSequence{}
		if !sc.Scan(m1, m2) {
			break
		}
		batch = append(batch, [2]*align.ReadSequence{m1, m2})
		if len(batch) == batchSize {
			if err := aligner.AlignPairedBatch(ctx, batch, sink); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := aligner.AlignPairedBatch(ctx, batch, sink); err != nil {
			return err
		}
		total += len(batch)
	}
	log.Printf("aligned %d read pairs (%d invalid reads)", total, sc.Invalid())
	return nil
}
