// Package codec provides the value codecs that translate attribute values
// between their logical (application) form and the physical form used by the
// remote system.
//
// Every codec satisfies resource.Codec. Decode is total over the physical
// values a backing source produces; Encode is defined for every settable
// logical value, and Decode(Encode(v)) reproduces v. The reverse direction
// is not guaranteed: physical formatting may differ between read and write
// paths.
package codec

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lychee-technology/resource"
)

var (
	_ resource.Codec = Identity{}
	_ resource.Codec = Func{}
	_ resource.Codec = Text{}
	_ resource.Codec = Mapping{}
	_ resource.Codec = Special{}
)

// Pair associates a logical value with its physical token.
type Pair struct {
	Logical  any
	Physical any
}

// Identity passes values through unchanged.
type Identity struct{}

func (Identity) Decode(physical any) (any, error) { return physical, nil }
func (Identity) Encode(logical any) (any, error)  { return logical, nil }

// Func adapts a pair of functions. A nil function behaves like Identity.
type Func struct {
	DecodeFn func(physical any) (any, error)
	EncodeFn func(logical any) (any, error)
}

func (f Func) Decode(physical any) (any, error) {
	if f.DecodeFn == nil {
		return physical, nil
	}
	return f.DecodeFn(physical)
}

func (f Func) Encode(logical any) (any, error) {
	if f.EncodeFn == nil {
		return logical, nil
	}
	return f.EncodeFn(logical)
}

// Text maps a blank-padded fixed-width field to a trimmed string.
type Text struct {
	// Width pads encoded values with blanks. Zero means no padding.
	Width int
	// Upper upper-cases encoded values.
	Upper bool
}

func (c Text) Decode(physical any) (any, error) {
	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	return strings.TrimRight(s, " "), nil
}

func (c Text) Encode(logical any) (any, error) {
	s, ok := logical.(string)
	if !ok {
		return nil, typeError("string", logical)
	}
	if c.Upper {
		s = strings.ToUpper(s)
	}
	return pad(s, c.Width)
}

// Mapping translates symbolic tokens. With Passthrough set, values without a
// pair are forwarded unchanged in both directions.
type Mapping struct {
	Pairs       []Pair
	Passthrough bool
}

func (c Mapping) Decode(physical any) (any, error) {
	for _, p := range c.Pairs {
		if physicalEqual(physical, p.Physical) {
			return p.Logical, nil
		}
	}
	if c.Passthrough {
		return physical, nil
	}
	return nil, fmt.Errorf("no mapping for physical value %v", physical)
}

func (c Mapping) Encode(logical any) (any, error) {
	for _, p := range c.Pairs {
		if valuesEqual(logical, p.Logical) {
			return p.Physical, nil
		}
	}
	if c.Passthrough {
		return logical, nil
	}
	return nil, fmt.Errorf("no mapping for logical value %v", logical)
}

// Special handles sentinel constants ("no value", "use system default",
// "auto-generate") ahead of the inner codec.
type Special struct {
	Inner  resource.Codec
	Values []Pair
}

func (c Special) Decode(physical any) (any, error) {
	for _, p := range c.Values {
		if physicalEqual(physical, p.Physical) {
			return p.Logical, nil
		}
	}
	return inner(c.Inner).Decode(physical)
}

func (c Special) Encode(logical any) (any, error) {
	for _, p := range c.Values {
		if valuesEqual(logical, p.Logical) {
			return p.Physical, nil
		}
	}
	return inner(c.Inner).Encode(logical)
}

func inner(c resource.Codec) resource.Codec {
	if c == nil {
		return Identity{}
	}
	return c
}

// physicalText reads a textual physical value.
func physicalText(physical any) (string, error) {
	switch v := physical.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", typeError("string", physical)
	}
}

// physicalEqual compares physical tokens; blank-padded text compares trimmed.
func physicalEqual(a, b any) bool {
	as, aText := asText(a)
	bs, bText := asText(b)
	if aText && bText {
		return strings.TrimRight(as, " ") == strings.TrimRight(bs, " ")
	}
	return valuesEqual(a, b)
}

func asText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func pad(s string, width int) (string, error) {
	if width <= 0 {
		return s, nil
	}
	if len(s) > width {
		return "", fmt.Errorf("value %q exceeds field width %d", s, width)
	}
	return s + strings.Repeat(" ", width-len(s)), nil
}

func typeError(want string, got any) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}
