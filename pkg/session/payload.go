// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// encodePayload writes the uplink sequence number into buf and returns the
// number of bytes used
func encodePayload(format PayloadFormat, buf []byte, seq uint32) (int, error) {
	var data []byte
	switch format {
	case PayloadText:
		data = strconv.AppendUint(nil, uint64(seq), 10)
	case PayloadCBOR:
		encoded, err := cbor.Marshal(seq)
		if err != nil {
			return 0, fmt.Errorf("cbor encode: %w", err)
		}
		data = encoded
	default:
		return 0, fmt.Errorf("unknown payload format %q", format)
	}

	if len(data) > len(buf) {
		return 0, fmt.Errorf("%w: %d bytes, capacity %d", ErrPayloadTooLarge, len(data), len(buf))
	}
	return copy(buf, data), nil
}

// seqLimit returns the first sequence number that no longer fits a buffer of
// size bytes, or zero when every uint32 fits
func seqLimit(format PayloadFormat, size int) uint64 {
	switch format {
	case PayloadText:
		if size >= 10 {
			return 0
		}
		limit := uint64(1)
		for i := 0; i < size; i++ {
			limit *= 10
		}
		return limit
	case PayloadCBOR:
		// CBOR unsigned ints take 1, 2, 3 or 5 bytes
		switch {
		case size >= 5:
			return 0
		case size >= 3:
			return 1 << 16
		case size == 2:
			return 1 << 8
		default:
			return 24
		}
	}
	return 0
}

// DecodePayload recovers the sequence number from an uplink payload
func DecodePayload(format PayloadFormat, data []byte) (uint32, error) {
	switch format {
	case PayloadText:
		v, err := strconv.ParseUint(string(data), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("text payload: %w", err)
		}
		return uint32(v), nil
	case PayloadCBOR:
		var v uint32
		if err := cbor.Unmarshal(data, &v); err != nil {
			return 0, fmt.Errorf("cbor payload: %w", err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unknown payload format %q", format)
	}
}
