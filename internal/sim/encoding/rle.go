// Package encoding packs per-cell layers for the wire.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedRuns = errors.New("malformed runs")

// EncodeRuns run-length encodes a row-major cell layer as base64 of
// (value, run) uvarint pairs.
func EncodeRuns(cells []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(cells); {
		v := cells[i]
		j := i + 1
		for j < len(cells) && cells[j] == v {
			j++
		}
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(v))])
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(j-i))])
		i = j
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRuns reverses EncodeRuns. The decoded layer must hold exactly n cells.
func DecodeRuns(s string, n int) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRuns, err)
	}
	out := make([]uint8, 0, n)
	for i := 0; i < len(raw); {
		v, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("%w: bad value at byte %d", ErrMalformedRuns, i)
		}
		i += k
		run, k := binary.Uvarint(raw[i:])
		if k <= 0 || run == 0 {
			return nil, fmt.Errorf("%w: bad run at byte %d", ErrMalformedRuns, i)
		}
		i += k
		if v > 0xFF {
			return nil, fmt.Errorf("%w: value %d out of range", ErrMalformedRuns, v)
		}
		if uint64(len(out))+run > uint64(n) {
			return nil, fmt.Errorf("%w: more than %d cells", ErrMalformedRuns, n)
		}
		for ; run > 0; run-- {
			out = append(out, uint8(v))
		}
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: got %d cells, want %d", ErrMalformedRuns, len(out), n)
	}
	return out, nil
}
