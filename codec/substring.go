package codec

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/resource"
)

// Substring exposes a fixed offset/length window of a larger physical field.
// Decode extracts the window (clamped to the field) and hands it to Inner;
// Encode places the inner value at Offset in a blank field of Offset+Length
// characters.
type Substring struct {
	Offset int
	Length int
	// Trim removes trailing blanks from the window before decoding.
	Trim  bool
	Inner resource.Codec
}

func (c Substring) validate() error {
	if c.Offset < 0 || c.Length < 0 {
		return fmt.Errorf("substring window offset %d length %d must not be negative", c.Offset, c.Length)
	}
	return nil
}

func (c Substring) Decode(physical any) (any, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	start := min(c.Offset, len(s))
	end := min(c.Offset+c.Length, len(s))
	window := s[start:end]
	if c.Trim {
		window = strings.TrimRight(window, " ")
	}
	return inner(c.Inner).Decode(window)
}

func (c Substring) Encode(logical any) (any, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	p, err := inner(c.Inner).Encode(logical)
	if err != nil {
		return nil, err
	}
	s, err := physicalText(p)
	if err != nil {
		return nil, fmt.Errorf("substring window: %w", err)
	}
	window, err := pad(s, c.Length)
	if err != nil {
		return nil, err
	}
	return strings.Repeat(" ", c.Offset) + window, nil
}
