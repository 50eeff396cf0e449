package codec

import (
	"fmt"
)

// Flags maps a fixed-position flag string, one character per option, to the
// set of options that are on. Decoded sets follow the order of Options.
type Flags struct {
	Options []string
	// On and Off are the flag characters. Zero values mean '1' and '0'.
	On  byte
	Off byte
}

func (c Flags) on() byte {
	if c.On == 0 {
		return '1'
	}
	return c.On
}

func (c Flags) off() byte {
	if c.Off == 0 {
		return '0'
	}
	return c.Off
}

func (c Flags) Decode(physical any) (any, error) {
	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(c.Options))
	for i, opt := range c.Options {
		if i < len(s) && s[i] == c.on() {
			out = append(out, opt)
		}
	}
	return out, nil
}

func (c Flags) Encode(logical any) (any, error) {
	set, ok := logical.([]string)
	if !ok {
		return nil, typeError("[]string", logical)
	}
	b := make([]byte, len(c.Options))
	for i := range b {
		b[i] = c.off()
	}
	for _, opt := range set {
		pos := -1
		for i, o := range c.Options {
			if o == opt {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("unknown option %q", opt)
		}
		b[pos] = c.on()
	}
	return string(b), nil
}
