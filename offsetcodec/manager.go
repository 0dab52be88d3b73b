package offsetcodec

import (
	"encoding/base64"
	"fmt"
)

// EncodeResult is the chosen codec's output: the wire bytes (magic byte
// plus payload) and which format was selected, for logging/metrics.
type EncodeResult struct {
	Bytes  []byte
	Format Format
}

// EncodeSmallest encodes the incomplete set with every applicable codec
// and returns the smallest result. incomplete must only contain offsets
// in [base, base+rangeWidth). Returns ErrEncodingNotSupported if no
// codec's window or maximum run length fits its wire representation.
func EncodeSmallest(base int64, nextExpectedOffset int64, incomplete map[int64]struct{}) (EncodeResult, error) {
	rangeWidth := uint64(nextExpectedOffset - base)
	runLens := runs(base, rangeWidth, incomplete)
	maxRunLen := maxRun(runLens)

	var best *EncodeResult
	for _, c := range allCodecs {
		if !c.appliesTo(rangeWidth, maxRunLen) {
			continue
		}
		payload := c.encode(base, rangeWidth, incomplete)
		wire := append([]byte{byte(c.format())}, payload...)
		if best == nil || len(wire) < len(best.Bytes) {
			best = &EncodeResult{Bytes: wire, Format: c.format()}
		}
	}
	if best == nil {
		return EncodeResult{}, ErrEncodingNotSupported
	}
	return *best, nil
}

// EncodeForced encodes with exactly the requested format, ignoring size.
// Used for the forced_codec testing configuration (spec.md §6).
func EncodeForced(format Format, base int64, nextExpectedOffset int64, incomplete map[int64]struct{}) (EncodeResult, error) {
	c, ok := codecByFormat(format)
	if !ok {
		return EncodeResult{}, fmt.Errorf("offsetcodec: unknown forced format %v", format)
	}
	rangeWidth := uint64(nextExpectedOffset - base)
	runLens := runs(base, rangeWidth, incomplete)
	if !c.appliesTo(rangeWidth, maxRun(runLens)) {
		return EncodeResult{}, fmt.Errorf("%w: forced format %v cannot represent range %d", ErrEncodingNotSupported, format, rangeWidth)
	}
	payload := c.encode(base, rangeWidth, incomplete)
	wire := append([]byte{byte(c.format())}, payload...)
	return EncodeResult{Bytes: wire, Format: format}, nil
}

// Decode reads the magic byte and dispatches to the matching codec,
// reconstructing the incomplete set and the next-expected offset
// (base + range), which re-raises the partition's high-water mark on
// recovery (spec.md §4.7).
func Decode(base int64, wire []byte) (nextExpectedOffset int64, incomplete []int64, err error) {
	if len(wire) == 0 {
		return base, nil, nil
	}
	format := Format(wire[0])
	c, ok := codecByFormat(format)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %#x", ErrCorruptOffsetMap, wire[0])
	}
	rangeWidth, incompleteOffsets, decodeErr := c.decode(base, wire[1:])
	if decodeErr != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrDecodingFailed, decodeErr)
	}
	return base + int64(rangeWidth), incompleteOffsets, nil
}

// EncodeBase64 encodes the incomplete set and wraps the result in
// standard base64, ready for inclusion in a UTF-8 commit-metadata string
// (spec.md §6, "Wire-level wrapper").
func EncodeBase64(base int64, nextExpectedOffset int64, incomplete map[int64]struct{}) (string, Format, error) {
	res, err := EncodeSmallest(base, nextExpectedOffset, incomplete)
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(res.Bytes), res.Format, nil
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(base int64, payload string) (nextExpectedOffset int64, incomplete []int64, err error) {
	if payload == "" {
		return base, nil, nil
	}
	wire, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: invalid base64: %v", ErrDecodingFailed, err)
	}
	return Decode(base, wire)
}
