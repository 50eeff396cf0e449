package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// IntegerFormat selects the physical form of an integer.
type IntegerFormat int

const (
	// IntegerText is a decimal string, optionally zero padded.
	IntegerText IntegerFormat = iota
	// IntegerBinary is a big-endian two's complement field.
	IntegerBinary
)

// Sentinel remaps one logical integer to a physical token.
type Sentinel[T constraints.Signed] struct {
	Logical  T
	Physical any
}

// Integer maps textual or binary physical integers to T. Sentinels are
// checked before the numeric rule in both directions.
type Integer[T constraints.Signed] struct {
	Format IntegerFormat
	// Width is the zero-padded width for text and the byte width (2, 4 or 8)
	// for binary.
	Width     int
	Sentinels []Sentinel[T]
}

// Int and Int64 are the integer codecs used by integer and long attributes.
type (
	Int   = Integer[int]
	Int64 = Integer[int64]
)

func (c Integer[T]) Decode(physical any) (any, error) {
	for _, s := range c.Sentinels {
		if physicalEqual(physical, s.Physical) {
			return s.Logical, nil
		}
	}

	switch v := physical.(type) {
	case int:
		return T(v), nil
	case int16:
		return T(v), nil
	case int32:
		return T(v), nil
	case int64:
		return T(v), nil
	}

	if c.Format == IntegerBinary {
		b, ok := physical.([]byte)
		if !ok {
			return nil, typeError("[]byte", physical)
		}
		n, err := decodeBinary(b, c.Width)
		if err != nil {
			return nil, err
		}
		return T(n), nil
	}

	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return T(0), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return T(n), nil
}

func (c Integer[T]) Encode(logical any) (any, error) {
	v, ok := logical.(T)
	if !ok {
		var zero T
		return nil, typeError(fmt.Sprintf("%T", zero), logical)
	}
	for _, s := range c.Sentinels {
		if s.Logical == v {
			return s.Physical, nil
		}
	}

	if c.Format == IntegerBinary {
		return encodeBinary(int64(v), c.Width)
	}
	if c.Width > 0 {
		return fmt.Sprintf("%0*d", c.Width, int64(v)), nil
	}
	return strconv.FormatInt(int64(v), 10), nil
}

func decodeBinary(b []byte, width int) (int64, error) {
	if width == 0 {
		width = len(b)
	}
	if len(b) != width {
		return 0, fmt.Errorf("binary integer has %d bytes, want %d", len(b), width)
	}
	switch width {
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
	return 0, fmt.Errorf("unsupported binary integer width %d", width)
}

func encodeBinary(v int64, width int) ([]byte, error) {
	if width == 0 {
		width = 4
	}
	b := make([]byte, width)
	switch width {
	case 2:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("value %d overflows 2-byte integer", v)
		}
		binary.BigEndian.PutUint16(b, uint16(int16(v)))
	case 4:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows 4-byte integer", v)
		}
		binary.BigEndian.PutUint32(b, uint32(int32(v)))
	case 8:
		binary.BigEndian.PutUint64(b, uint64(v))
	default:
		return nil, fmt.Errorf("unsupported binary integer width %d", width)
	}
	return b, nil
}
