package offsetcodec

import "fmt"

// runLengthCodec encodes alternating complete/incomplete run lengths
// starting from base_offset, as a sequence of u16 or u32 values with no
// header: the window width is implicit in the sum of the runs, and
// decoding proceeds until the payload is exhausted (spec.md §6).
type runLengthCodec struct {
	long bool
}

func (r runLengthCodec) format() Format {
	if r.long {
		return FormatRunLengthLong
	}
	return FormatRunLengthShort
}

func (r runLengthCodec) appliesTo(_ uint64, maxRunLen uint64) bool {
	if r.long {
		return fitsUint32(maxRunLen)
	}
	return fitsUint16(maxRunLen)
}

func (r runLengthCodec) encode(base int64, rangeWidth uint64, incomplete map[int64]struct{}) []byte {
	rs := runs(base, rangeWidth, incomplete)
	width := 2
	if r.long {
		width = 4
	}
	out := make([]byte, len(rs)*width)
	for i, run := range rs {
		if r.long {
			putUint32(out[i*4:i*4+4], uint32(run))
		} else {
			putUint16(out[i*2:i*2+2], uint16(run))
		}
	}
	return out
}

func (r runLengthCodec) decode(base int64, payload []byte) (uint64, []int64, error) {
	width := 2
	if r.long {
		width = 4
	}
	if len(payload)%width != 0 {
		return 0, nil, fmt.Errorf("offsetcodec: run-length payload of %d bytes is not a multiple of %d", len(payload), width)
	}

	var incomplete []int64
	var offset int64 = base
	var total uint64
	isIncompleteRun := false
	for i := 0; i+width <= len(payload); i += width {
		var run uint64
		if r.long {
			run = uint64(getUint32(payload[i : i+4]))
		} else {
			run = uint64(getUint16(payload[i : i+2]))
		}
		if isIncompleteRun {
			for j := uint64(0); j < run; j++ {
				incomplete = append(incomplete, offset+int64(j))
			}
		}
		offset += int64(run)
		total += run
		isIncompleteRun = !isIncompleteRun
	}
	return total, incomplete, nil
}
