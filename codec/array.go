package codec

import (
	"fmt"

	"github.com/lychee-technology/resource"
)

// Repeated is the physical form of an array: a repeated field with a count.
// Values may hold more slots than Count; only the first Count are meaningful.
type Repeated struct {
	Count  int   `json:"count"`
	Values []any `json:"values"`
}

// Array maps a Repeated physical field to a []T, decoding each element with
// Element. Decode reads the count and then that many elements; Encode writes
// the count and then the elements.
type Array[T any] struct {
	Element resource.Codec
}

func (c Array[T]) Decode(physical any) (any, error) {
	var r Repeated
	switch v := physical.(type) {
	case Repeated:
		r = v
	case *Repeated:
		if v == nil {
			return []T{}, nil
		}
		r = *v
	case []any:
		r = Repeated{Count: len(v), Values: v}
	case nil:
		return []T{}, nil
	default:
		return nil, typeError("codec.Repeated", physical)
	}

	if r.Count < 0 || r.Count > len(r.Values) {
		return nil, fmt.Errorf("repeated field count %d out of range [0,%d]", r.Count, len(r.Values))
	}

	el := inner(c.Element)
	out := make([]T, 0, r.Count)
	for i := 0; i < r.Count; i++ {
		v, err := el.Decode(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		tv, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("element %d: %w", i, typeError(fmt.Sprintf("%T", zero), v))
		}
		out = append(out, tv)
	}
	return out, nil
}

func (c Array[T]) Encode(logical any) (any, error) {
	vs, ok := logical.([]T)
	if !ok {
		var zero []T
		return nil, typeError(fmt.Sprintf("%T", zero), logical)
	}
	el := inner(c.Element)
	r := Repeated{Count: len(vs), Values: make([]any, 0, len(vs))}
	for i, v := range vs {
		p, err := el.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		r.Values = append(r.Values, p)
	}
	return r, nil
}
