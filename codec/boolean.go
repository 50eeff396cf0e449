package codec

// Bool maps a pair of physical tokens to a boolean. Decoding is total: any
// physical value other than True decodes to false.
type Bool struct {
	True  any
	False any
}

// Common token pairs.
var (
	BoolOneZero = Bool{True: "1", False: "0"}
	BoolYesNo   = Bool{True: "*YES", False: "*NO"}
	BoolYN      = Bool{True: "Y", False: "N"}
)

func (c Bool) Decode(physical any) (any, error) {
	return physicalEqual(physical, c.True), nil
}

func (c Bool) Encode(logical any) (any, error) {
	b, ok := logical.(bool)
	if !ok {
		return nil, typeError("bool", logical)
	}
	if b {
		return c.True, nil
	}
	return c.False, nil
}
