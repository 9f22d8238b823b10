package index

import (
	"encoding/binary"
	"os"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

// fileHeader is the fixed-size prefix of each directional section of an
// on-disk FM-index file: magic, version, the SA sample rate, the BWT
// length, and the number of SA samples. The file holds two such sections,
// forward then reverse, each a header followed by its BWT bytes and its
// little-endian int64 SA samples. The file carries no reference metadata;
// callers set FMIndex.Ref themselves. Only this in-memory shape is load-bearing, not any particular
// upstream wire format (spec.md §1 treats the on-disk loader as an external
// collaborator).
type fileHeader struct {
	Magic      uint64
	Version    uint32
	SampleRate uint32
	TextLen    int64
	NumSamples int64
}

const indexMagic uint64 = 0xb3a3b1a1e5310000

// errBadMagic is returned when a file does not begin with the expected
// index magic number.
var errBadMagic = indexLoadError("index: bad magic number")

// errVersionMismatch is returned when a file's version does not match what
// this build understands.
var errVersionMismatch = indexLoadError("index: unsupported version")

type indexLoadError string

func (e indexLoadError) Error() string { return string(e) }

const headerSize = 8 + 4 + 4 + 8 + 8

// Load memory-maps path and parses it into an FMIndex. The mapping is
// read-only and shared for the process lifetime; the BWT arrays are used in
// place from the mapping, while the SA samples are decoded into heap slices.
func Load(path string) (*FMIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, indexLoadError(err.Error())
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, indexLoadError(err.Error())
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, indexLoadError(err.Error())
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		log.Printf("index: madvise failed (continuing without hint): %v", err)
	}

	fwd, rest, err := parseDirection(data)
	if err != nil {
		return nil, err
	}
	rev, _, err := parseDirection(rest)
	if err != nil {
		return nil, err
	}
	return &FMIndex{fwd: fwd, rev: rev, mmapped: data}, nil
}

// parseDirection reads one directional bwtTable (header + bwt bytes + SA
// samples) from the front of buf and returns it along with the remaining
// bytes.
func parseDirection(buf []byte) (*bwtTable, []byte, error) {
	if len(buf) < headerSize {
		return nil, nil, indexLoadError("index: truncated header")
	}
	var h fileHeader
	h.Magic = binary.LittleEndian.Uint64(buf[0:8])
	h.Version = binary.LittleEndian.Uint32(buf[8:12])
	h.SampleRate = binary.LittleEndian.Uint32(buf[12:16])
	h.TextLen = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.NumSamples = int64(binary.LittleEndian.Uint64(buf[24:32]))
	if h.Magic != indexMagic {
		return nil, nil, errBadMagic
	}
	if h.Version != 1 {
		return nil, nil, errVersionMismatch
	}
	buf = buf[headerSize:]
	if int64(len(buf)) < h.TextLen {
		return nil, nil, indexLoadError("index: truncated bwt")
	}
	bwt := buf[:h.TextLen]
	buf = buf[h.TextLen:]

	saBytes := h.NumSamples * 8
	if int64(len(buf)) < saBytes {
		return nil, nil, indexLoadError("index: truncated sa samples")
	}
	sa := make([]int64, h.NumSamples)
	for i := range sa {
		sa[i] = int64(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	buf = buf[saBytes:]

	return newBWTTable(bwt, sa, int(h.SampleRate)), buf, nil
}

// Close unmaps the index's backing memory. It is a no-op for indexes built
// in-process (e.g. via NewFMIndex in tests) rather than loaded from disk.
// Safe to call at most once.
func (idx *FMIndex) Close() error {
	if idx.mmapped == nil {
		return nil
	}
	m := idx.mmapped
	idx.mmapped = nil
	return unix.Munmap(m)
}
