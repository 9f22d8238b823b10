// Package seq owns every crossing between the ASCII sequence
// representations used at the I/O boundaries and the packed base encoding
// (0=A, 1=C, 2=G, 3=T, 4=N) the pipeline works in: FASTQ read ingestion,
// FASTA reference loading, and the output-side conversion back to ASCII.
// Nothing in the hot path touches ASCII.
package seq

import (
	"strings"

	"github.com/grailbio/bwamem/align"
)

// qualOffset is the Phred ASCII offset of FASTQ quality strings.
const qualOffset = 33

// asciiToBase folds case-insensitive packing and cleaning into one table:
// anything that is not ACGT (either case) packs to N.
var asciiToBase [256]align.Base

func init() {
	for i := range asciiToBase {
		asciiToBase[i] = align.BaseN
	}
	for _, p := range []struct {
		upper, lower byte
		base         align.Base
	}{
		{'A', 'a', align.BaseA},
		{'C', 'c', align.BaseC},
		{'G', 'g', align.BaseG},
		{'T', 't', align.BaseT},
	} {
		asciiToBase[p.upper] = p.base
		asciiToBase[p.lower] = p.base
	}
}

var baseToASCII = [5]byte{'A', 'C', 'G', 'T', 'N'}

// FromASCII converts an ASCII sequence to packed bases, mapping lowercase
// to uppercase and anything outside ACGT to N.
func FromASCII(ascii []byte) []align.Base {
	bases := make([]align.Base, len(ascii))
	for i, c := range ascii {
		bases[i] = asciiToBase[c]
	}
	return bases
}

// appendPacked appends the packed form of ascii to dst, reusing dst's
// backing array; the in-place companion of FromASCII for scanners that
// recycle their read buffers.
func appendPacked(dst []align.Base, ascii []byte) []align.Base {
	for _, c := range ascii {
		dst = append(dst, asciiToBase[c])
	}
	return dst
}

// ToASCII converts packed bases back to ASCII, used only at the output
// boundary when a record's SEQ field is assembled.
func ToASCII(bases []align.Base) []byte {
	out := make([]byte, len(bases))
	for i, b := range bases {
		out[i] = baseToASCII[b&7]
	}
	return out
}

// ToASCIIRevComp converts packed bases to the ASCII of their reverse
// complement, the form a reverse-strand record stores its SEQ in.
func ToASCIIRevComp(bases []align.Base) []byte {
	out := make([]byte, len(bases))
	for i, b := range bases {
		out[len(bases)-1-i] = baseToASCII[align.Complement(b)&7]
	}
	return out
}

// ReverseQuals reverses a quality slice in place, the companion of
// ToASCIIRevComp when a reverse-strand record is assembled.
func ReverseQuals(quals []byte) {
	for i, j := 0, len(quals)-1; i < j; i, j = i+1, j-1 {
		quals[i], quals[j] = quals[j], quals[i]
	}
}

// SplitQName splits a FASTQ ID line into the record QNAME (leading '@'
// stripped, cut at the first whitespace) and the remaining comment.
func SplitQName(id string) (name, comment string) {
	name = strings.TrimPrefix(id, "@")
	if i := strings.IndexAny(name, " \t"); i >= 0 {
		return name[:i], strings.TrimLeft(name[i:], " \t")
	}
	return name, ""
}
