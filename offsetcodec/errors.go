package offsetcodec

import "errors"

// ErrEncodingNotSupported is returned when every codec's window or
// maximum run length overflows its wire representation (spec.md §7,
// "EncodingNotSupported"). The caller should skip metadata for that
// partition and still commit the bare offset.
var ErrEncodingNotSupported = errors.New("offsetcodec: no codec can represent this window")

// ErrCorruptOffsetMap is returned when a magic byte doesn't match any
// known codec. Per spec.md §7, this is the one internal-invariant
// violation that should not be recovered locally.
var ErrCorruptOffsetMap = errors.New("offsetcodec: unknown magic byte")

// ErrDecodingFailed wraps an underlying decode error for a payload whose
// magic byte matched a known codec but whose body was malformed (spec.md
// §7, "OffsetDecodingError"). Callers should treat the partition's
// incomplete set as empty and fall back to full replay.
var ErrDecodingFailed = errors.New("offsetcodec: malformed offset map payload")
