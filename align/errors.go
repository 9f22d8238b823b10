package align

import "errors"

// Per-read and per-region error sentinels. These are localized: they cause
// one read to come out unmapped or one region to be dropped, never a fatal
// batch abort. Batch-level failures use github.com/grailbio/base/errors
// instead (see the record-sink error in mem).
var (
	// ErrEmptyRead is returned when a read has zero length.
	ErrEmptyRead = errors.New("align: empty read")
	// ErrQualityLengthMismatch is returned when a read's quality string
	// length does not match its base count.
	ErrQualityLengthMismatch = errors.New("align: quality length does not match base count")
	// ErrBandOverflow is returned when a banded DP extension would need a
	// band wider than the configured maximum.
	ErrBandOverflow = errors.New("align: DP band exceeds configured maximum")
)
